package redissink

import "context"

// StreamLen and Purge let the external tests inspect the stream.
func StreamLen(ctx context.Context, s *Sink) (int64, error) {
	return s.client.XLen(ctx, s.stream).Result()
}

func Purge(ctx context.Context, s *Sink) error {
	return s.client.Del(ctx, s.stream).Err()
}
