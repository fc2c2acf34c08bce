package objectstore

import (
	"context"
	"net/url"

	"github.com/zeebo/errs"
)

// ErrConfig is returned by Open for an unparseable or unsupported URL.
var ErrConfig = errs.Class("objectstore: config")

// openFuncs is populated by the local and s3 subpackages' init() functions
// would be circular, so instead Open lives behind a small indirection: each
// backend package is imported for side effect by cmd/obscore, which calls
// Register. This mirrors storj's own backend-selection-by-scheme pattern
// (private/kvstore picks a driver off "bolt://"+path) without introducing an
// import cycle between objectstore and its own subpackages.
var registry = map[string]func(ctx context.Context, u *url.URL) (Store, error){}

// Register associates scheme (e.g. "s3", "local") with a constructor. Backend
// packages call this from an init() function.
func Register(scheme string, open func(ctx context.Context, u *url.URL) (Store, error)) {
	registry[scheme] = open
}

// Open selects a Store implementation by the URL's scheme, exactly the way
// storj's metadata store selects "bolt://" vs other schemes.
func Open(ctx context.Context, rawURL string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrConfig.Wrap(err)
	}
	open, ok := registry[u.Scheme]
	if !ok {
		return nil, ErrConfig.New("unsupported object store scheme %q", u.Scheme)
	}
	return open(ctx, u)
}
