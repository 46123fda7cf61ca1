package backend

import (
	"bytes"
	"encoding/json"
)

// Normalize converts a backend response body into a Result. Three shapes are
// recognized, in order:
//
//	{"text": "...", "costs": {...}, "metadata": {...}}
//	{"output": {"text": "..."}, "costs": {...}, "metadata": {...}}
//	{"choices": [{"message": {"content": "..."}}], "usage": {...}}
//
// Anything else becomes a Result whose text is the raw body and whose
// metadata.raw holds the decoded value (or the raw string when it is not JSON).
func Normalize(body []byte) *Result {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return &Result{Text: string(body), Metadata: map[string]any{"raw": string(body)}}
	}

	obj, ok := v.(map[string]any)
	if ok {
		if r, ok := fromText(obj); ok {
			return r
		}
		if r, ok := fromOutput(obj); ok {
			return r
		}
		if r, ok := fromChoices(obj); ok {
			return r
		}
	}
	return &Result{Text: string(body), Metadata: map[string]any{"raw": v}}
}

func metadataOf(obj map[string]any) map[string]any {
	md, _ := obj["metadata"].(map[string]any)
	if md == nil {
		md = map[string]any{}
	}
	return md
}

// withTopLevel lifts body-level costs and model into metadata. Values
// already present in metadata win.
func withTopLevel(obj, md map[string]any) map[string]any {
	for _, k := range []string{"costs", "model"} {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if _, exists := md[k]; !exists {
			md[k] = v
		}
	}
	return md
}

func fromText(obj map[string]any) (*Result, bool) {
	text, ok := obj["text"].(string)
	if !ok {
		return nil, false
	}
	return &Result{Text: text, Metadata: withTopLevel(obj, metadataOf(obj))}, true
}

func fromOutput(obj map[string]any) (*Result, bool) {
	out, ok := obj["output"].(map[string]any)
	if !ok {
		return nil, false
	}
	text, ok := out["text"].(string)
	if !ok {
		return nil, false
	}
	return &Result{Text: text, Metadata: withTopLevel(obj, metadataOf(obj))}, true
}

// fromChoices handles OpenAI-compatible chat completions. usage is mapped
// onto metadata.costs unless the body already carries costs.
func fromChoices(obj map[string]any) (*Result, bool) {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return nil, false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return nil, false
	}
	text, ok := msg["content"].(string)
	if !ok {
		return nil, false
	}

	md := metadataOf(obj)
	if usage, ok := obj["usage"].(map[string]any); ok {
		if _, exists := md["costs"]; !exists {
			md["costs"] = map[string]any{
				"tokens_in":  usage["prompt_tokens"],
				"tokens_out": usage["completion_tokens"],
			}
		}
	}
	if model, ok := obj["model"].(string); ok {
		md["model"] = model
	}
	return &Result{Text: text, Metadata: md}, true
}
