package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/heapflame/heapflame/internal/callsite"
)

// printTree writes callsites depth first, children indented under their
// parent. Callsites whose parent is unknown are printed as roots.
func printTree(w io.Writer, callsites []callsite.Callsite) {
	known := make(map[int64]struct{}, len(callsites))
	for _, c := range callsites {
		known[c.Hash] = struct{}{}
	}

	children := make(map[int64][]int)
	var roots []int
	for i, c := range callsites {
		if _, ok := known[c.ParentHash]; !ok || c.IsRoot() {
			roots = append(roots, i)
			continue
		}
		children[c.ParentHash] = append(children[c.ParentHash], i)
	}

	var visit func(i, indent int)
	visit = func(i, indent int) {
		c := callsites[i]
		fmt.Fprintf(w, "%s%s %d\n", strings.Repeat("  ", indent), c.Name, c.TotalSize)
		for _, child := range children[c.Hash] {
			visit(child, indent+1)
		}
	}
	for _, i := range roots {
		visit(i, 0)
	}
}
