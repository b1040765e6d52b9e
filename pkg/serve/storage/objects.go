// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the two durable stores backing a repository: the
// content-addressed object store (blobs and trees) and the revision log.
// Both are append-only; the object for every digest referenced by a
// persisted commit stays readable for the lifetime of the repository.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

var (
	OBJECT_MAGIC = [4]byte{'C', 'D', 0x00, 0x01}
)

type CompressMethod uint16

const (
	STORE CompressMethod = 0
	ZSTD  CompressMethod = 1

	// Blobs below this size are stored raw; zstd gains nothing on them.
	compressThreshold = 256
)

// TreeEntry is one name in a directory snapshot.
type TreeEntry struct {
	Name string             `json:"name"`
	Type plumbing.EntryType `json:"type"`
	ID   plumbing.Hash      `json:"id"`
}

// Tree is a sorted directory snapshot. DIRECTORY entries reference child
// trees; JSON and TEXT entries reference blobs.
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Name < t.Entries[j].Name })
}

// Find returns the entry named name, or nil.
func (t *Tree) Find(name string) *TreeEntry {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i < len(t.Entries) && t.Entries[i].Name == name {
		return &t.Entries[i]
	}
	return nil
}

// Upsert replaces or inserts an entry, keeping the order.
func (t *Tree) Upsert(e TreeEntry) {
	if cur := t.Find(e.Name); cur != nil {
		*cur = e
		return
	}
	t.Entries = append(t.Entries, e)
	t.Sort()
}

// Remove drops the entry named name, reporting whether it was present.
func (t *Tree) Remove(name string) bool {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i >= len(t.Entries) || t.Entries[i].Name != name {
		return false
	}
	t.Entries = append(t.Entries[:i], t.Entries[i+1:]...)
	return true
}

func (t *Tree) encode() ([]byte, error) {
	t.Sort()
	return cjson.Marshal(map[string]any{"entries": treeEntriesValue(t.Entries)})
}

func treeEntriesValue(entries []TreeEntry) []any {
	vs := make([]any, 0, len(entries))
	for _, e := range entries {
		vs = append(vs, map[string]any{
			"name": e.Name,
			"type": string(e.Type),
			"id":   e.ID.String(),
		})
	}
	return vs
}

// ODB is the content-addressed object database of a single repository.
// Writes are idempotent: the same digest always names the same bytes.
type ODB struct {
	root     string
	incoming string
	cache    *ristretto.Cache[string, []byte]
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// CacheConfig sizes the shared read cache.
type CacheConfig struct {
	NumCounters int64 `toml:"num_counters"`
	MaxCost     int64 `toml:"max_cost"`
	BufferItems int64 `toml:"buffer_items"`
}

// NewObjectCache builds a ristretto cache shared by every ODB of the node.
func NewObjectCache(cc *CacheConfig) (*ristretto.Cache[string, []byte], error) {
	numCounters, maxCost, bufferItems := int64(1e6), int64(256<<20), int64(64)
	if cc != nil {
		if cc.NumCounters > 0 {
			numCounters = cc.NumCounters
		}
		if cc.MaxCost > 0 {
			maxCost = cc.MaxCost
		}
		if cc.BufferItems > 0 {
			bufferItems = cc.BufferItems
		}
	}
	return ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
}

// NewODB opens (creating if needed) the object database rooted at root.
// cache may be nil.
func NewODB(root string, cache *ristretto.Cache[string, []byte]) (*ODB, error) {
	incoming := filepath.Join(root, "incoming")
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ODB{root: root, incoming: incoming, cache: cache, enc: enc, dec: dec}, nil
}

func (o *ODB) Root() string {
	return o.root
}

func (o *ODB) Close() error {
	o.enc.Close()
	o.dec.Close()
	return nil
}

func (o *ODB) objectPath(oid plumbing.Hash) string {
	hexed := oid.String()
	return filepath.Join(o.root, hexed[:2], hexed[2:])
}

func hashObject(kind string, payload []byte) plumbing.Hash {
	h := plumbing.NewHasher()
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(payload)
	return h.Sum()
}

// WriteBlob stores content and returns its digest.
func (o *ODB) WriteBlob(content []byte) (plumbing.Hash, error) {
	oid := hashObject("blob", content)
	return oid, o.writeObject(oid, content)
}

// WriteTree stores a directory snapshot and returns its digest.
func (o *ODB) WriteTree(t *Tree) (plumbing.Hash, error) {
	payload, err := t.encode()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oid := hashObject("tree", payload)
	return oid, o.writeObject(oid, payload)
}

// HashTree computes the digest a tree would be stored under.
func HashTree(t *Tree) (plumbing.Hash, error) {
	payload, err := t.encode()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return hashObject("tree", payload), nil
}

// HashBlob computes the digest content would be stored under.
func HashBlob(content []byte) plumbing.Hash {
	return hashObject("blob", content)
}

func (o *ODB) writeObject(oid plumbing.Hash, payload []byte) error {
	path := o.objectPath(oid)
	if _, err := os.Stat(path); err == nil {
		// Idempotent: same digest, same bytes.
		return nil
	}
	method := STORE
	body := payload
	if len(payload) >= compressThreshold {
		method = ZSTD
		body = o.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}
	fd, err := os.CreateTemp(o.incoming, "obj-*")
	if err != nil {
		return err
	}
	tmp := fd.Name()
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
		_ = os.Remove(tmp)
	}()
	var header [6]byte
	copy(header[:4], OBJECT_MAGIC[:])
	binary.BigEndian.PutUint16(header[4:], uint16(method))
	if _, err := fd.Write(header[:]); err != nil {
		return err
	}
	if _, err := fd.Write(body); err != nil {
		return err
	}
	if err := fd.Sync(); err != nil {
		return err
	}
	if err := fd.Close(); err != nil {
		fd = nil
		return err
	}
	fd = nil
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (o *ODB) readObject(oid plumbing.Hash) ([]byte, error) {
	key := oid.String()
	if o.cache != nil {
		if b, ok := o.cache.Get(key); ok {
			return b, nil
		}
	}
	raw, err := os.ReadFile(o.objectPath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NoSuchObject(oid)
		}
		return nil, err
	}
	if len(raw) < 6 || !bytes.Equal(raw[:4], OBJECT_MAGIC[:]) {
		return nil, fmt.Errorf("storage: corrupt object %s", oid)
	}
	var payload []byte
	switch CompressMethod(binary.BigEndian.Uint16(raw[4:6])) {
	case STORE:
		payload = raw[6:]
	case ZSTD:
		if payload, err = o.dec.DecodeAll(raw[6:], nil); err != nil {
			return nil, fmt.Errorf("storage: decompress object %s: %w", oid, err)
		}
	default:
		return nil, fmt.Errorf("storage: object %s uses unknown compression", oid)
	}
	if o.cache != nil {
		o.cache.Set(key, payload, int64(len(payload)))
	}
	return payload, nil
}

// Blob loads the content stored under oid.
func (o *ODB) Blob(oid plumbing.Hash) ([]byte, error) {
	return o.readObject(oid)
}

// Tree loads the directory snapshot stored under oid.
func (o *ODB) Tree(oid plumbing.Hash) (*Tree, error) {
	payload, err := o.readObject(oid)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Entries []struct {
			Name string `json:"name"`
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"entries"`
	}
	if err := unmarshalStrict(payload, &decoded); err != nil {
		return nil, fmt.Errorf("storage: corrupt tree %s: %w", oid, err)
	}
	t := &Tree{Entries: make([]TreeEntry, 0, len(decoded.Entries))}
	for _, e := range decoded.Entries {
		t.Entries = append(t.Entries, TreeEntry{
			Name: e.Name,
			Type: plumbing.EntryType(e.Type),
			ID:   plumbing.NewHash(e.ID),
		})
	}
	return t, nil
}
