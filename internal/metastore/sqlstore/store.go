// Package sqlstore implements internal/metastore.Store over
// database/sql, for the Postgres/CockroachDB backend spec.md §4.E names as
// an alternative to the embedded boltstore for multi-node deployments. Rows
// are soft-deleted (a `deleted` flag) so Watch can replay delete events the
// same way boltstore's in-process fanout does, without a second bolt-style
// push channel: a backend shared by every node can't hand out in-process
// channels across processes, so Watch here polls the same seq column Put
// and Delete already maintain.
package sqlstore

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/metastore"
)

func init() {
	metastore.Register("postgres", open)
	metastore.Register("cockroach", open)
}

func open(ctx context.Context, u *url.URL) (metastore.Store, error) {
	dsn := *u
	dsn.Scheme = "postgres"
	return New(dsn.String())
}

// schema creates the two tables sqlstore needs if they don't already exist.
// Migration proper (cmd/obscore migrate) calls this too, so a fresh
// database and an already-provisioned one both work.
const schema = `
CREATE TABLE IF NOT EXISTS metastore_items (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	version BIGINT NOT NULL,
	seq BIGINT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS metastore_items_seq_idx ON metastore_items (seq);
CREATE SEQUENCE IF NOT EXISTS metastore_seq;
CREATE TABLE IF NOT EXISTS metastore_leases (
	key TEXT PRIMARY KEY,
	lease_id TEXT NOT NULL,
	deadline TIMESTAMPTZ NOT NULL
);
`

// PollInterval bounds how often Watch polls for new rows, matching
// spec.md §4.E's "resumable, near-real-time" watch contract rather than
// bbolt's immediate in-process push.
const PollInterval = 200 * time.Millisecond

// ErrSQLStore is the general-purpose error class for this backend.
var ErrSQLStore = errs.Class("sqlstore")

// Store is a database/sql-backed metastore.Store, the multi-node backend
// for Postgres and CockroachDB (same wire protocol, same driver).
type Store struct {
	db *sql.DB
}

// New opens dsn (a postgres:// URL) and ensures the schema exists.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ErrSQLStore.Wrap(err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ErrSQLStore.Wrap(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT nextval('metastore_seq')`).Scan(&seq)
	return seq, err
}

// Put implements metastore.Store.
func (s *Store) Put(ctx context.Context, key metastore.Key, expectedVersion int64, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	var curVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM metastore_items WHERE key = $1 AND NOT deleted FOR UPDATE`, key,
	).Scan(&curVersion)
	switch {
	case err == sql.ErrNoRows:
		curVersion = 0
	case err != nil:
		return ErrSQLStore.Wrap(err)
	}
	if curVersion != expectedVersion {
		return metastore.ErrConflict.New("key %q: have version %d want %d", key, curVersion, expectedVersion)
	}

	seq, err := s.nextSeq(ctx, tx)
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	newVersion := curVersion + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO metastore_items (key, value, version, seq, deleted)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (key) DO UPDATE SET value = $2, version = $3, seq = $4, deleted = FALSE
	`, key, value, newVersion, seq)
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return ErrSQLStore.Wrap(err)
	}
	return nil
}

// Get implements metastore.Store.
func (s *Store) Get(ctx context.Context, key metastore.Key) (metastore.Item, error) {
	var item metastore.Item
	item.Key = key
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM metastore_items WHERE key = $1 AND NOT deleted`, key,
	).Scan(&item.Value, &item.Version)
	if err == sql.ErrNoRows {
		return metastore.Item{}, metastore.ErrNotFound.New("%s", key)
	}
	if err != nil {
		return metastore.Item{}, ErrSQLStore.Wrap(err)
	}
	return item, nil
}

// Delete implements metastore.Store. Rows are soft-deleted so Watch can
// still observe and replay the deletion.
func (s *Store) Delete(ctx context.Context, key metastore.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := s.nextSeq(ctx, tx)
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE metastore_items SET deleted = TRUE, seq = $2, value = '' WHERE key = $1`, key, seq,
	); err != nil {
		return ErrSQLStore.Wrap(err)
	}
	return ErrSQLStore.Wrap(tx.Commit())
}

// Scan implements metastore.Store.
func (s *Store) Scan(ctx context.Context, prefix, start, end metastore.Key, limit int) ([]metastore.Item, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT key, value, version FROM metastore_items WHERE NOT deleted AND key LIKE $1 AND key >= $2`)
	args := []any{prefix + "%", prefix + start}
	if end != "" {
		query.WriteString(` AND key < $3`)
		args = append(args, prefix+end)
	}
	query.WriteString(` ORDER BY key`)
	if limit > 0 {
		query.WriteString(` LIMIT `)
		query.WriteString(placeholderLimit(len(args) + 1))
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, ErrSQLStore.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var items []metastore.Item
	for rows.Next() {
		var item metastore.Item
		if err := rows.Scan(&item.Key, &item.Value, &item.Version); err != nil {
			return nil, ErrSQLStore.Wrap(err)
		}
		items = append(items, item)
	}
	return items, ErrSQLStore.Wrap(rows.Err())
}

func placeholderLimit(n int) string {
	return "$" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Watch implements metastore.Store by polling metastore_items for rows
// under prefix with seq > resumeFrom every PollInterval, emitting Put for
// live rows and Delete for soft-deleted ones, in seq order.
func (s *Store) Watch(ctx context.Context, prefix metastore.Key, resumeFrom int64) (<-chan metastore.Event, error) {
	out := make(chan metastore.Event, 64)
	go func() {
		defer close(out)
		last := resumeFrom
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			rows, err := s.db.QueryContext(ctx, `
				SELECT key, value, version, seq, deleted FROM metastore_items
				WHERE key LIKE $1 AND seq > $2 ORDER BY seq
			`, prefix+"%", last)
			if err != nil {
				continue
			}
			for rows.Next() {
				var (
					key     string
					value   []byte
					version int64
					seq     int64
					deleted bool
				)
				if err := rows.Scan(&key, &value, &version, &seq, &deleted); err != nil {
					continue
				}
				last = seq
				evt := metastore.Event{Item: metastore.Item{Key: key, Value: value, Version: version}, Resume: seq}
				if deleted {
					evt.Type = metastore.EventDelete
					evt.Item.Value = nil
				} else {
					evt.Type = metastore.EventPut
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					_ = rows.Close()
					return
				}
			}
			_ = rows.Close()
		}
	}()
	return out, nil
}

// Lease implements metastore.Store over metastore_leases, CAS'd the same
// way Put is: fails with ErrLeaseHeld if a live (non-expired) row exists.
func (s *Store) Lease(ctx context.Context, key metastore.Key, ttl time.Duration) (metastore.LeaseID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", ErrSQLStore.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	var deadline time.Time
	err = tx.QueryRowContext(ctx, `SELECT deadline FROM metastore_leases WHERE key = $1 FOR UPDATE`, key).Scan(&deadline)
	if err == nil && time.Now().Before(deadline) {
		return "", metastore.ErrLeaseHeld.New("%s", key)
	}
	if err != nil && err != sql.ErrNoRows {
		return "", ErrSQLStore.Wrap(err)
	}

	id := newLeaseID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO metastore_leases (key, lease_id, deadline) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET lease_id = $2, deadline = $3
	`, key, string(id), time.Now().Add(ttl))
	if err != nil {
		return "", ErrSQLStore.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return "", ErrSQLStore.Wrap(err)
	}
	return id, nil
}

// Renew implements metastore.Store.
func (s *Store) Renew(ctx context.Context, lease metastore.LeaseID, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE metastore_leases SET deadline = $2 WHERE lease_id = $1`, string(lease), time.Now().Add(ttl))
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ErrSQLStore.Wrap(err)
	}
	if n == 0 {
		return metastore.ErrNotFound.New("lease %s", lease)
	}
	return nil
}

// Release implements metastore.Store.
func (s *Store) Release(ctx context.Context, lease metastore.LeaseID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metastore_leases WHERE lease_id = $1`, string(lease))
	return ErrSQLStore.Wrap(err)
}

// Close implements metastore.Store.
func (s *Store) Close() error {
	return ErrSQLStore.Wrap(s.db.Close())
}

var leaseIDMu sync.Mutex
var leaseIDSeq uint64

// newLeaseID derives a lease id from the sql.DB's own sequence would need a
// round trip; a per-process counter plus nanotime is enough uniqueness for
// a value that is only ever looked up by exact match within one lease's
// lifetime.
func newLeaseID() metastore.LeaseID {
	leaseIDMu.Lock()
	leaseIDSeq++
	n := leaseIDSeq
	leaseIDMu.Unlock()
	return metastore.LeaseID(time.Now().UTC().Format("20060102T150405.000000000-") + itoa(int(n)))
}
