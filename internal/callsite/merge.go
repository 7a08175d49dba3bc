package callsite

// Merge folds siblings too small to be displayed into a single callsite.
//
// Callsites are expected in the order Sort produces. A callsite with a size
// less than or equal to minSize absorbs every later callsite of the same depth
// sharing its parent and also below the threshold. Merged callsites are
// remembered so their children get attached to the callsite they were folded
// into, and are merged relative to it.
//
// The input is left untouched. Parents that can't be found are kept as is.
func Merge(callsites []Callsite, minSize int64) []Callsite {
	merged := make([]Callsite, 0, len(callsites))
	redirects := make(map[int64]int64)

	parentOf := func(c Callsite) int64 {
		if h, ok := redirects[c.ParentHash]; ok {
			return h
		}
		return c.ParentHash
	}

	for i := 0; i < len(callsites); i++ {
		if _, ok := redirects[callsites[i].Hash]; ok {
			continue
		}
		c := callsites[i]
		c.ParentHash = parentOf(callsites[i])

		if c.TotalSize <= minSize {
			for j := i + 1; j < len(callsites) && callsites[j].Depth == c.Depth; j++ {
				next := callsites[j]
				if _, ok := redirects[next.Hash]; ok {
					continue
				}
				if next.TotalSize > minSize || parentOf(next) != c.ParentHash {
					continue
				}
				c.TotalSize += next.TotalSize
				redirects[next.Hash] = c.Hash
			}
		}

		merged = append(merged, c)
	}

	return merged
}
