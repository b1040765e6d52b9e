// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/zeebo/blake3"
)

const (
	HASH_DIGEST_SIZE = 20
	HASH_HEX_SIZE    = 40
)

// Hash BLAKE3 hashed content, truncated to 20 bytes.
type Hash [HASH_DIGEST_SIZE]byte

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	hashBytes, _ := hex.DecodeString(s)
	copy(h[:], hashBytes)
	return nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	hashBytes, _ := hex.DecodeString(string(text))
	copy(h[:], hashBytes)
	return nil
}

// ZeroHash is Hash with value zero
var ZeroHash Hash

// NewHash return a new Hash from a hexadecimal hash representation
func NewHash(s string) Hash {
	b, _ := hex.DecodeString(s)

	var h Hash
	copy(h[:], b)

	return h
}

func (h Hash) IsZero() bool {
	var empty Hash
	return h == empty
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Compare(b Hash) int {
	return bytes.Compare(h[:], b[:])
}

// ValidateHashHex reports whether s is a 40-char hexadecimal digest.
func ValidateHashHex(s string) bool {
	if len(s) != HASH_HEX_SIZE {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Hasher hashes object payloads into a truncated BLAKE3 digest.
type Hasher struct {
	hash.Hash
}

func NewHasher() Hasher {
	return Hasher{Hash: blake3.New()}
}

func (h Hasher) Sum() (oid Hash) {
	sum := h.Hash.Sum(nil)
	copy(oid[:], sum[:HASH_DIGEST_SIZE])
	return
}

// HashBytes digests b in one shot.
func HashBytes(b []byte) Hash {
	h := NewHasher()
	_, _ = h.Write(b)
	return h.Sum()
}
