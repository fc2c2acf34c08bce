package metastore

import (
	"context"
	"net/url"
)

// registry is populated by each backend subpackage's init() function,
// mirroring internal/objectstore's backend-selection-by-scheme pattern so
// neither side needs a direct import of the other (avoiding an import
// cycle between metastore and its own boltstore/sqlstore subpackages).
var registry = map[string]func(ctx context.Context, u *url.URL) (Store, error){}

// Register associates scheme (e.g. "bolt", "postgres", "cockroach") with a
// constructor. Backend packages call this from an init() function.
func Register(scheme string, open func(ctx context.Context, u *url.URL) (Store, error)) {
	registry[scheme] = open
}

// Open selects a Store implementation by dsn's URL scheme.
func Open(ctx context.Context, dsn string) (Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, ErrStore.Wrap(err)
	}
	open, ok := registry[u.Scheme]
	if !ok {
		return nil, ErrStore.New("unsupported metastore scheme %q", u.Scheme)
	}
	return open(ctx, u)
}
