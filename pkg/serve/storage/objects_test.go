// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"strings"
	"testing"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

func newTestODB(t *testing.T) *ODB {
	t.Helper()
	o, err := NewODB(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestBlobRoundtrip(t *testing.T) {
	o := newTestODB(t)
	small := []byte(`{"a":1}`)
	large := []byte(strings.Repeat(`{"key":"value"},`, 200))
	for _, content := range [][]byte{small, large} {
		oid, err := o.WriteBlob(content)
		if err != nil {
			t.Fatal(err)
		}
		if oid != HashBlob(content) {
			t.Fatal("stored digest must match the computed digest")
		}
		got, err := o.Blob(oid)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, content) {
			t.Fatalf("roundtrip mismatch: %d bytes in, %d out", len(content), len(got))
		}
	}
}

func TestWriteBlobIdempotent(t *testing.T) {
	o := newTestODB(t)
	a, err := o.WriteBlob([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := o.WriteBlob([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same bytes must store under the same digest")
	}
}

func TestMissingObject(t *testing.T) {
	o := newTestODB(t)
	if _, err := o.Blob(plumbing.HashBytes([]byte("nope"))); err == nil {
		t.Fatal("expected an error for an absent object")
	}
}

func TestTreeRoundtrip(t *testing.T) {
	o := newTestODB(t)
	blob, err := o.WriteBlob([]byte(`"x"`))
	if err != nil {
		t.Fatal(err)
	}
	tree := &Tree{Entries: []TreeEntry{
		{Name: "z.json", Type: plumbing.JSON, ID: blob},
		{Name: "a.txt", Type: plumbing.TEXT, ID: blob},
		{Name: "dir", Type: plumbing.DIRECTORY, ID: blob},
	}}
	oid, err := o.WriteTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	got, err := o.Tree(oid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("entries: %d", len(got.Entries))
	}
	// Trees are stored sorted regardless of insertion order.
	if got.Entries[0].Name != "a.txt" || got.Entries[1].Name != "dir" || got.Entries[2].Name != "z.json" {
		t.Fatalf("order: %v", got.Entries)
	}
	if e := got.Find("z.json"); e == nil || e.Type != plumbing.JSON || e.ID != blob {
		t.Fatalf("find: %+v", e)
	}
}

func TestTreeHashIsOrderInsensitive(t *testing.T) {
	blob := HashBlob([]byte("content"))
	a := &Tree{Entries: []TreeEntry{{Name: "x", Type: plumbing.TEXT, ID: blob}, {Name: "y", Type: plumbing.TEXT, ID: blob}}}
	b := &Tree{Entries: []TreeEntry{{Name: "y", Type: plumbing.TEXT, ID: blob}, {Name: "x", Type: plumbing.TEXT, ID: blob}}}
	ha, err := HashTree(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashTree(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatal("entry order must not change the tree digest")
	}
}

func TestTreeUpsertRemove(t *testing.T) {
	blob := HashBlob([]byte("v"))
	tree := &Tree{}
	tree.Upsert(TreeEntry{Name: "b", Type: plumbing.TEXT, ID: blob})
	tree.Upsert(TreeEntry{Name: "a", Type: plumbing.TEXT, ID: blob})
	tree.Upsert(TreeEntry{Name: "b", Type: plumbing.JSON, ID: blob})
	if len(tree.Entries) != 2 {
		t.Fatalf("upsert must replace in place: %v", tree.Entries)
	}
	if tree.Entries[0].Name != "a" || tree.Entries[1].Type != plumbing.JSON {
		t.Fatalf("entries: %v", tree.Entries)
	}
	if !tree.Remove("a") || tree.Remove("a") {
		t.Fatal("remove reports presence")
	}
	if len(tree.Entries) != 1 {
		t.Fatalf("entries after remove: %v", tree.Entries)
	}
}

func TestODBWithCache(t *testing.T) {
	cache, err := NewObjectCache(&CacheConfig{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	o, err := NewODB(t.TempDir(), cache)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()
	content := []byte(strings.Repeat("cached", 100))
	oid, err := o.WriteBlob(content)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 3; n++ {
		got, err := o.Blob(oid)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, content) {
			t.Fatal("cache must hand back the stored bytes")
		}
	}
}
