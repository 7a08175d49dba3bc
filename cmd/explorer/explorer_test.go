package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gocloud.dev/blob/memblob"

	"github.com/heapflame/heapflame/internal/callsite"
	"github.com/heapflame/heapflame/internal/heapprofile"
	"github.com/heapflame/heapflame/internal/selection"
	"github.com/heapflame/heapflame/internal/testutil"
)

func TestPrintTree(t *testing.T) {
	callsites := []callsite.Callsite{
		{Hash: 1, ParentHash: callsite.RootParentHash, Depth: 0, Name: "main", TotalSize: 10},
		{Hash: 2, ParentHash: 1, Depth: 1, Name: "a", TotalSize: 6},
		{Hash: 3, ParentHash: 1, Depth: 1, Name: "b", TotalSize: 4},
		{Hash: 4, ParentHash: 2, Depth: 2, Name: "malloc", TotalSize: 6},
		{Hash: 5, ParentHash: 99, Depth: 2, Name: "orphan", TotalSize: 1},
	}
	var b bytes.Buffer
	printTree(&b, callsites)

	want := "main 10\n  a 6\n    malloc 6\n  b 4\norphan 1\n"
	if diff := testutil.Diff(b.String(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestParseSelection(t *testing.T) {
	key, err := parseSelection("12 3400")
	if err != nil {
		t.Fatal(err)
	}
	if diff := testutil.Diff(key, selection.Key{PID: 12, Timestamp: 3400}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	for _, line := range []string{"12", "a 1", "1 b", "1 2 3"} {
		if _, err := parseSelection(line); err == nil {
			t.Fatalf("expected an error for %q", line)
		}
	}
}

type fixedFetcher []callsite.Callsite

func (f fixedFetcher) Fetch(ctx context.Context, key selection.Key) ([]callsite.Callsite, error) {
	return f, nil
}

func TestMinSizeFetcherIsBounded(t *testing.T) {
	minSizes, err := lru.New[selection.Key, int64](2)
	if err != nil {
		t.Fatal(err)
	}
	f := &minSizeFetcher{
		store: fixedFetcher{
			{Hash: 1, ParentHash: callsite.RootParentHash, Depth: 0, Name: "main", TotalSize: 100},
		},
		visible:    time.Second,
		resolution: 100 * time.Millisecond,
		minSizes:   minSizes,
	}
	for ts := int64(0); ts < 5; ts++ {
		minSize, err := f.minSize(context.Background(), selection.Key{PID: 1, Timestamp: ts})
		if err != nil {
			t.Fatal(err)
		}
		if minSize != 10 {
			t.Fatalf("expected a min size of 10, got %d", minSize)
		}
	}
	if n := minSizes.Len(); n != 2 {
		t.Fatalf("expected 2 remembered selections, got %d", n)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	err := heapprofile.Store{Bucket: bucket}.Write(ctx, heapprofile.HeapProfile{
		PID:       1,
		Timestamp: 2,
		Callsites: callsite.FromStacks([]callsite.Stack{
			{Frames: []string{"main", "a"}, Size: 90},
			{Frames: []string{"main", "b"}, Size: 5},
			{Frames: []string{"main", "c"}, Size: 5},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	args := &arguments{visible: time.Second, resolution: 100 * time.Millisecond}
	err = run(ctx, args, strings.NewReader("1 2\n"), &out, bucket)
	if err != nil {
		t.Fatal(err)
	}

	want := "# pid 1 at 2, min size 10\nmain 100\n  a 90\n  b 10\n"
	if diff := testutil.Diff(out.String(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}
