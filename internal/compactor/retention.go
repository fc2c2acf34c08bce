package compactor

import (
	"context"
	"time"

	"go.obscore.dev/obscore/internal/metastore/catalog"
	"go.obscore.dev/obscore/internal/objectstore"
)

// SweepRetention deletes partitions whose stream retention window has
// elapsed, and deletes superseded partitions whose compaction grace period
// has elapsed, per spec.md §4.I. Both sweeps are idempotent: an already
// missing catalog entry or object is not an error.
func (c *Compactor) SweepRetention(ctx context.Context) error {
	items, err := c.meta.Scan(ctx, "/org/", "", "", 0)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}

	now := time.Now().UnixMicro()
	for _, item := range items {
		rec, err := catalog.Unmarshal(item.Value)
		if err != nil {
			continue
		}

		if rec.Superseded {
			if rec.SupersededAtMicros == 0 {
				continue
			}
			elapsed := time.Duration(now-rec.SupersededAtMicros) * time.Microsecond
			if elapsed >= c.cfg.GracePeriod {
				c.deletePartition(ctx, item.Key, rec.Key)
			}
			continue
		}

		if c.retention == nil {
			continue
		}
		hours, err := c.retention.RetentionHours(ctx, rec.Org, rec.Stream)
		if err != nil || hours <= 0 {
			continue
		}
		cutoff := now - int64(time.Duration(hours)*time.Hour/time.Microsecond)
		if rec.MaxTS < cutoff {
			c.deletePartition(ctx, item.Key, rec.Key)
		}
	}
	return nil
}

// deletePartition removes a partition's catalog entry and backing object.
// Deleting the catalog entry first matches spec.md §4.I's ordering: once
// the manifest is gone, the Partition Index can no longer surface the
// partition for a query, so deleting its bytes afterward is always safe.
func (c *Compactor) deletePartition(ctx context.Context, metaKey, objectKey string) {
	if err := c.meta.Delete(ctx, metaKey); err != nil {
		c.logWarn("compactor: failed to delete manifest", err)
		return
	}
	if objectKey == "" {
		return
	}
	if err := c.store.Delete(ctx, objectKey); err != nil && !objectstore.ErrNotFound.Has(err) {
		c.logWarn("compactor: failed to delete partition object", err)
	}
}
