package heapprofile

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"

	"github.com/heapflame/heapflame/internal/callsite"
	"github.com/heapflame/heapflame/internal/errorutil"
	"github.com/heapflame/heapflame/internal/selection"
	"github.com/heapflame/heapflame/internal/storageutil"
)

type (
	HeapProfile struct {
		PID         int64               `json:"pid"`
		Timestamp   int64               `json:"timestamp"`
		ProcessName string              `json:"process_name,omitempty"`
		Callsites   []callsite.Callsite `json:"callsites"`
	}

	// Store reads and writes heap profiles from a bucket.
	Store struct {
		Bucket *blob.Bucket
	}
)

func StoragePath(pid, timestamp int64) string {
	return fmt.Sprintf("%d/%d", pid, timestamp)
}

func (p HeapProfile) StoragePath() string {
	return StoragePath(p.PID, p.Timestamp)
}

func (p HeapProfile) Key() selection.Key {
	return selection.Key{PID: p.PID, Timestamp: p.Timestamp}
}

// Normalize checks callsites are usable and sorts them the way Merge expects.
func (p *HeapProfile) Normalize() error {
	hashes := make(map[int64]struct{}, len(p.Callsites))
	for _, c := range p.Callsites {
		if c.Depth < 0 {
			return fmt.Errorf("%w: callsite %d has a negative depth", errorutil.ErrDataIntegrity, c.Hash)
		}
		if c.TotalSize < 0 {
			return fmt.Errorf("%w: callsite %d has a negative size", errorutil.ErrDataIntegrity, c.Hash)
		}
		if _, exists := hashes[c.Hash]; exists {
			return fmt.Errorf("%w: callsite %d is duplicated", errorutil.ErrDataIntegrity, c.Hash)
		}
		hashes[c.Hash] = struct{}{}
	}
	if !callsite.IsSorted(p.Callsites) {
		callsite.Sort(p.Callsites)
	}
	return nil
}

func (s Store) Write(ctx context.Context, p HeapProfile) error {
	return storageutil.CompressedWrite(ctx, s.Bucket, p.StoragePath(), p)
}

func (s Store) Read(ctx context.Context, key selection.Key) (HeapProfile, error) {
	var p HeapProfile
	err := storageutil.UnmarshalCompressed(ctx, s.Bucket, StoragePath(key.PID, key.Timestamp), &p)
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			return HeapProfile{}, fmt.Errorf("%w: %v", errorutil.ErrNoResults, err)
		}
		return HeapProfile{}, err
	}
	return p, nil
}

// Fetch returns the callsites stored for a selection, sorted for merging.
func (s Store) Fetch(ctx context.Context, key selection.Key) ([]callsite.Callsite, error) {
	p, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !callsite.IsSorted(p.Callsites) {
		callsite.Sort(p.Callsites)
	}
	return p.Callsites, nil
}
