package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/heapflame/heapflame/internal/callsite"
)

// ErrStale is returned when the selection changed while its callsites were
// being fetched.
var ErrStale = errors.New("selection is stale")

type (
	// Key identifies a flamegraph: one process at one point in time.
	Key struct {
		PID       int64 `json:"pid"`
		Timestamp int64 `json:"timestamp"`
	}

	// Fetcher retrieves the callsites of a selection, sorted for merging.
	Fetcher interface {
		Fetch(ctx context.Context, key Key) ([]callsite.Callsite, error)
	}

	// Result is a merged flamegraph ready to be laid out.
	Result struct {
		Key       Key                 `json:"key"`
		MinSize   int64               `json:"min_size"`
		Callsites []callsite.Callsite `json:"callsites"`
	}

	entry struct {
		callsites []callsite.Callsite
		result    Result
	}

	// Controller tracks the active selection and keeps the merged result for
	// it. Results fetched for a selection that is no longer active are dropped.
	Controller struct {
		fetcher Fetcher
		publish func(Result)

		mu       sync.Mutex
		current  Key
		selected bool
		// entry belongs to current and is nil until its callsites are fetched.
		entry *entry
	}
)

func (k Key) String() string {
	return fmt.Sprintf("%d@%d", k.PID, k.Timestamp)
}

// NewController returns a controller for fetcher. publish, if not nil, is
// called with every result computed for the active selection. It is called
// without holding the controller's lock.
func NewController(fetcher Fetcher, publish func(Result)) *Controller {
	return &Controller{
		fetcher: fetcher,
		publish: publish,
	}
}

// Select makes key the active selection. The result kept for the previous
// selection is discarded.
func (c *Controller) Select(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected && c.current == key {
		return
	}
	c.current = key
	c.selected = true
	c.entry = nil
}

// Selected returns the active selection.
func (c *Controller) Selected() (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.selected
}

// Load returns the merged callsites of key. Callsites are fetched once per
// selection; a different minSize only triggers a new merge.
//
// A fetch in flight is never interrupted when the selection changes, but its
// result is discarded and ErrStale is returned.
func (c *Controller) Load(ctx context.Context, key Key, minSize int64) (Result, error) {
	c.mu.Lock()
	if !c.isCurrent(key) {
		c.mu.Unlock()
		return Result{}, ErrStale
	}
	if e := c.entry; e != nil {
		if e.result.MinSize == minSize {
			c.mu.Unlock()
			return e.result, nil
		}
		result := merge(key, e.callsites, minSize)
		c.entry = &entry{callsites: e.callsites, result: result}
		c.mu.Unlock()
		c.notify(result)
		return result, nil
	}
	c.mu.Unlock()

	callsites, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !callsite.IsSorted(callsites) {
		callsites = append([]callsite.Callsite(nil), callsites...)
		callsite.Sort(callsites)
	}

	c.mu.Lock()
	if !c.isCurrent(key) {
		c.mu.Unlock()
		log.Debug().Str("selection", key.String()).Msg("dropping stale callsites")
		return Result{}, ErrStale
	}
	result := merge(key, callsites, minSize)
	c.entry = &entry{callsites: callsites, result: result}
	c.mu.Unlock()
	c.notify(result)
	return result, nil
}

// Close drops the result kept by the controller.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
	c.selected = false
}

func (c *Controller) isCurrent(key Key) bool {
	return c.selected && c.current == key
}

func (c *Controller) notify(r Result) {
	if c.publish != nil {
		c.publish(r)
	}
}

func merge(key Key, callsites []callsite.Callsite, minSize int64) Result {
	return Result{
		Key:       key,
		MinSize:   minSize,
		Callsites: callsite.Merge(callsites, minSize),
	}
}
