package callsite

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RootParentHash is the parent hash of a callsite without a parent.
const RootParentHash int64 = -1

type (
	// Callsite is one distinct call path in a heap allocation call tree.
	Callsite struct {
		Hash       int64  `json:"hash"`
		ParentHash int64  `json:"parent_hash"`
		Depth      int    `json:"depth"`
		Name       string `json:"name"`
		TotalSize  int64  `json:"total_size"`
	}
)

// Hash derives the identity of a callsite from its name and the hash of its
// parent. The result is never negative so it can't collide with
// RootParentHash.
func Hash(name string, parentHash int64) int64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(parentHash))
	h := xxhash.New()
	_, _ = h.Write(b[:])
	_, _ = h.WriteString(name)
	return int64(h.Sum64() >> 1)
}

func (c Callsite) IsRoot() bool {
	return c.ParentHash == RootParentHash
}

// less reports whether a sorts before b: depth ascending, then parent hash,
// then size descending, then name.
func less(a, b Callsite) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if a.ParentHash != b.ParentHash {
		return a.ParentHash < b.ParentHash
	}
	if a.TotalSize != b.TotalSize {
		return a.TotalSize > b.TotalSize
	}
	return a.Name < b.Name
}

// Sort orders callsites the way Merge expects them.
func Sort(callsites []Callsite) {
	sort.SliceStable(callsites, func(i, j int) bool {
		return less(callsites[i], callsites[j])
	})
}

func IsSorted(callsites []Callsite) bool {
	return sort.SliceIsSorted(callsites, func(i, j int) bool {
		return less(callsites[i], callsites[j])
	})
}

func Total(callsites []Callsite) int64 {
	var total int64
	for _, c := range callsites {
		total += c.TotalSize
	}
	return total
}

// RootSize returns the size of the largest depth 0 callsite.
func RootSize(callsites []Callsite) int64 {
	var size int64
	for _, c := range callsites {
		if c.Depth != 0 {
			continue
		}
		if c.TotalSize > size {
			size = c.TotalSize
		}
	}
	return size
}

// MinSize returns the size one pixel is worth when the root spans the visible
// range rendered at the given resolution.
func MinSize(rootSize int64, visible, resolution time.Duration) int64 {
	if visible <= 0 || resolution <= 0 || rootSize <= 0 {
		return 0
	}
	width := float64(visible) / float64(resolution)
	if width < 1 {
		return rootSize
	}
	return int64(float64(rootSize) / width)
}
