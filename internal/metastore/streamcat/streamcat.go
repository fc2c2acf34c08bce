// Package streamcat implements the stream registration table spec.md §3
// and §4.E name ("streams" is one of the metadata store's catalog tables):
// it durably records each stream's kind, retention, and ingestion policy,
// created on first successful write per spec.md §3's stream lifecycle.
package streamcat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/metastore"
	"go.obscore.dev/obscore/internal/model"
)

// ErrStreamCatalog is the general-purpose error class for this package.
var ErrStreamCatalog = errs.Class("streamcat")

// Catalog resolves and registers model.Stream records over a
// metastore.Store, implementing both internal/ingest.StreamCatalog and
// internal/query/planner.StreamCatalog.
type Catalog struct {
	meta metastore.Store
}

// New constructs a Catalog backed by meta.
func New(meta metastore.Store) *Catalog {
	return &Catalog{meta: meta}
}

func key(org, stream string) string {
	return fmt.Sprintf("/org/%s/streams/%s", org, stream)
}

// Stream implements query/planner.StreamCatalog.
func (c *Catalog) Stream(ctx context.Context, org, stream string) (model.Stream, error) {
	item, err := c.meta.Get(ctx, key(org, stream))
	if err != nil {
		if metastore.ErrNotFound.Has(err) {
			return model.Stream{}, ErrStreamCatalog.Wrap(err)
		}
		return model.Stream{}, ErrStreamCatalog.Wrap(err)
	}
	var s model.Stream
	if err := json.Unmarshal(item.Value, &s); err != nil {
		return model.Stream{}, ErrStreamCatalog.Wrap(err)
	}
	return s, nil
}

// GetOrCreateStream implements ingest.StreamCatalog: it returns the stream's
// existing registration, or durably creates one with default retention and
// ingestion policy on first use.
func (c *Catalog) GetOrCreateStream(ctx context.Context, org, stream string, kind model.StreamKind) (model.Stream, error) {
	if s, err := c.Stream(ctx, org, stream); err == nil {
		return s, nil
	}

	s := model.Stream{
		Org:              org,
		Name:             stream,
		Kind:             kind,
		RetentionHours:   30 * 24,
		Policy:           model.DefaultIngestionPolicy(),
		RequireTimeRange: true,
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return model.Stream{}, ErrStreamCatalog.Wrap(err)
	}
	if err := c.meta.Put(ctx, key(org, stream), 0, raw); err != nil {
		if metastore.ErrConflict.Has(err) {
			// lost the race to create; the winner's registration is
			// authoritative.
			return c.Stream(ctx, org, stream)
		}
		return model.Stream{}, ErrStreamCatalog.Wrap(err)
	}
	return s, nil
}

// RetentionHours implements internal/compactor.RetentionLookup.
func (c *Catalog) RetentionHours(ctx context.Context, org, stream string) (int, error) {
	s, err := c.Stream(ctx, org, stream)
	if err != nil {
		return 0, ErrStreamCatalog.Wrap(err)
	}
	return s.RetentionHours, nil
}

// Update persists a change to stream's declared options (e.g. retention),
// via CAS against its current registration.
func (c *Catalog) Update(ctx context.Context, org, stream string, mutate func(*model.Stream)) error {
	item, err := c.meta.Get(ctx, key(org, stream))
	if err != nil {
		return ErrStreamCatalog.Wrap(err)
	}
	var s model.Stream
	if err := json.Unmarshal(item.Value, &s); err != nil {
		return ErrStreamCatalog.Wrap(err)
	}
	mutate(&s)
	raw, err := json.Marshal(s)
	if err != nil {
		return ErrStreamCatalog.Wrap(err)
	}
	return ErrStreamCatalog.Wrap(c.meta.Put(ctx, key(org, stream), item.Version, raw))
}
