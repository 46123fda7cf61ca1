// Package filecatalog serves policies from a YAML file and reloads the file
// when it changes on disk.
//
// File layout:
//
//	tenants:
//	  acme:
//	    - policy_id: support@v1
//	      status: active
//	      base_model: llama-3.1
package filecatalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tandem/internal/policy"
	"github.com/linnemanlabs/tandem/internal/policy/memcatalog"
)

type document struct {
	Tenants map[string][]policy.Policy `yaml:"tenants"`
}

// Catalog is a policy.Catalog backed by a YAML file.
type Catalog struct {
	path   string
	logger log.Logger
	// snapshot of the last file that parsed and validated
	mem *memcatalog.Catalog
}

// New reads path and returns a ready Catalog. Watch must be started
// separately to pick up later edits.
func New(path string, statuses []policy.Status, logger log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Catalog{path: path, logger: logger, mem: memcatalog.New(statuses...)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the file. On error the previous snapshot stays in place.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy file %s: %w", c.path, err)
	}
	if err := validate(&doc); err != nil {
		return fmt.Errorf("policy file %s: %w", c.path, err)
	}
	c.mem.Replace(doc.Tenants)
	return nil
}

func validate(doc *document) error {
	var errs []error
	for tenant, policies := range doc.Tenants {
		seen := make(map[string]bool, len(policies))
		for i, p := range policies {
			if p.ID == "" {
				errs = append(errs, fmt.Errorf("tenant %s: policy %d has no policy_id", tenant, i))
				continue
			}
			if seen[p.ID] {
				errs = append(errs, fmt.Errorf("tenant %s: duplicate policy_id %q", tenant, p.ID))
			}
			seen[p.ID] = true
		}
	}
	return errors.Join(errs...)
}

// ListPolicies implements policy.Catalog against the current snapshot.
func (c *Catalog) ListPolicies(ctx context.Context, tenantID, skill string) ([]policy.Policy, error) {
	return c.mem.ListPolicies(ctx, tenantID, skill)
}

// Watch reloads the catalog whenever the file is written, created or renamed
// into place. It blocks until ctx is cancelled. The parent directory is
// watched so editors that replace the file atomically are handled.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(c.path), err)
	}

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Error(ctx, err, "policy file reload failed", "path", c.path)
				continue
			}
			c.logger.Info(ctx, "policy file reloaded", "path", c.path, "op", ev.Op.String())

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}
			c.logger.Error(ctx, err, "policy file watcher error", "path", c.path)
		}
	}
}
