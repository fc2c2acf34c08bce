// Copyright (C) 2024 Obscore, Inc.
// See LICENSE for copying information.

package local_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"go.obscore.dev/obscore/internal/objectstore"
	"go.obscore.dev/obscore/internal/objectstore/local"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello partition")
	require.NoError(t, store.Put(ctx, "org/stream/2024/01/01/00/p1.part", bytes.NewReader(data), int64(len(data))))

	r, err := store.Get(ctx, "org/stream/2024/01/01/00/p1.part", nil)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, data, got)
}

// TestPutNeverOverwrites exercises spec.md §6's "never overwrites a key".
func TestPutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("a")), 1))
	err = store.Put(ctx, "k", bytes.NewReader([]byte("b")), 1)
	require.Error(t, err)
	require.True(t, objectstore.ErrExists.Has(err))
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "org/logs/a.part", bytes.NewReader([]byte("a")), 1))
	require.NoError(t, store.Put(ctx, "org/logs/b.part", bytes.NewReader([]byte("b")), 1))
	require.NoError(t, store.Put(ctx, "org/metrics/c.part", bytes.NewReader([]byte("c")), 1))

	keys, err := store.List(ctx, "org/logs/")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("0123456789")), 10))

	r, err := store.Get(ctx, "k", &objectstore.Range{Offset: 2, Length: 3})
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, []byte("234"), got)
}

func TestDeleteAbsentIsNotError(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "nope"))
}
