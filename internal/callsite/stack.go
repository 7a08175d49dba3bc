package callsite

type (
	// Stack is a sampled allocation call stack, outermost frame first.
	Stack struct {
		Frames []string `json:"frames"`
		Size   int64    `json:"size"`
	}
)

// FromStacks aggregates allocation stacks into callsites, sorted for Merge.
func FromStacks(stacks []Stack) []Callsite {
	var callsites []Callsite
	index := make(map[int64]int)

	for _, s := range stacks {
		if len(s.Frames) == 0 || s.Size == 0 {
			continue
		}
		parent := RootParentHash
		for depth, name := range s.Frames {
			h := Hash(name, parent)
			i, ok := index[h]
			if !ok {
				i = len(callsites)
				index[h] = i
				callsites = append(callsites, Callsite{
					Hash:       h,
					ParentHash: parent,
					Depth:      depth,
					Name:       name,
				})
			}
			callsites[i].TotalSize += s.Size
			parent = h
		}
	}

	Sort(callsites)
	return callsites
}
