// Package fingerprint computes the deterministic content hash used to
// deduplicate dimension rows (Resource, Scope, MetricDescriptor — spec §3,
// §4.A "Key algorithms"). Collisions are resolved by the caller comparing
// the full canonicalized attribute map before trusting a cache hit; this
// package only guarantees that equal normalized maps produce equal
// fingerprints, and that unequal maps are overwhelmingly likely to differ.
package fingerprint

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/ollyscale/core/internal/attrval"
)

// ID is a 128-bit fingerprint: two independent 64-bit hashes of the same
// canonical byte stream, taken over disjoint seeds. Using two 64-bit hashes
// instead of vendoring a dedicated 128-bit algorithm keeps the dependency
// surface to the xxhash the rest of the pack already pulls in transitively
// (prometheus client bridges) while pushing collision probability low
// enough for a dimension-dedup cache (not a security boundary).
type ID struct {
	Hi uint64
	Lo uint64
}

// IsZero reports whether id is the zero value (used as a sentinel for
// "not yet computed").
func (id ID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Bytes renders id as 16 bytes, big-endian, suitable for a bytea column or
// cache key.
func (id ID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:16], id.Lo)
	return b
}

// seedLo's 8 little-endian bytes are appended to the canonical bytes in the
// second pass, so Lo hashes a different input than Hi.
const seedLo uint64 = 0x9E3779B97F4A7C15

// Of computes the fingerprint of a normalized attribute map. Callers must
// pass an already-canonicalized map (attrval.Canonicalize) — Of does not
// canonicalize itself so that repeated calls against the same canonical map
// (e.g. one Resource across many spans in a batch) can reuse the
// canonicalization work.
func Of(m attrval.Map) ID {
	buf := attrval.AppendCanonical(make([]byte, 0, 256), m)

	hi := xxhash.Sum64(buf)

	d := xxhash.New()
	_, _ = d.Write(buf)
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], seedLo)
	_, _ = d.Write(seed[:])
	lo := d.Sum64()

	return ID{Hi: hi, Lo: lo}
}

// Equal reports whether two normalized maps are equal. Used after a cache
// hit or an upsert-on-conflict race to rule out a fingerprint collision
// before trusting the cached id (§4.A guarantee: "collisions are resolved
// by comparing the full attribute map").
func Equal(a, b attrval.Map) bool {
	ca, cb := attrval.Canonicalize(a), attrval.Canonicalize(b)
	if len(ca) != len(cb) {
		return false
	}
	bufA := attrval.AppendCanonical(nil, ca)
	bufB := attrval.AppendCanonical(nil, cb)
	if len(bufA) != len(bufB) {
		return false
	}
	for i := range bufA {
		if bufA[i] != bufB[i] {
			return false
		}
	}
	return true
}
