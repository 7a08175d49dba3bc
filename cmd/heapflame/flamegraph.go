package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"

	"github.com/heapflame/heapflame/internal/callsite"
	"github.com/heapflame/heapflame/internal/errorutil"
	"github.com/heapflame/heapflame/internal/httputil"
	"github.com/heapflame/heapflame/internal/selection"
)

type (
	flamegraphResponse struct {
		PID       int64               `json:"pid"`
		Timestamp int64               `json:"timestamp"`
		MinSize   int64               `json:"min_size"`
		RootSize  int64               `json:"root_size"`
		TotalSize int64               `json:"total_size"`
		Callsites []callsite.Callsite `json:"callsites"`
	}
)

// getFlamegraph returns the callsites of a heap profile with the ones too
// small to be displayed merged together. The threshold is derived from the
// visible range (visible_ns) and the time a pixel covers (ns_per_px), or
// given directly with min_size.
func (env *environment) getFlamegraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	params, ok := httputil.GetInt64Parameters(w, r, "pid", "timestamp")
	if !ok {
		return
	}
	visible, ok := httputil.GetOptionalInt64QueryParameter(w, r, "visible_ns", 0)
	if !ok {
		return
	}
	resolution, ok := httputil.GetOptionalInt64QueryParameter(w, r, "ns_per_px", 0)
	if !ok {
		return
	}
	minSize, ok := httputil.GetOptionalInt64QueryParameter(w, r, "min_size", -1)
	if !ok {
		return
	}

	key := selection.Key{PID: params["pid"], Timestamp: params["timestamp"]}
	hub.Scope().SetTag("selection", key.String())

	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read callsites"
	callsites, err := env.callsites.Fetch(ctx, key)
	s.Finish()
	if err != nil {
		switch {
		case errors.Is(err, errorutil.ErrNoResults):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, context.DeadlineExceeded):
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	rootSize := callsite.RootSize(callsites)
	if minSize < 0 {
		minSize = callsite.MinSize(rootSize, time.Duration(visible), time.Duration(resolution))
	}

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Merge callsites"
	merged := callsite.Merge(callsites, minSize)
	s.Finish()

	hub.Scope().SetTags(map[string]string{
		"callsites":        strconv.Itoa(len(callsites)),
		"merged_callsites": strconv.Itoa(len(merged)),
	})

	s = sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()
	b, err := json.Marshal(flamegraphResponse{
		PID:       key.PID,
		Timestamp: key.Timestamp,
		MinSize:   minSize,
		RootSize:  rootSize,
		TotalSize: callsite.Total(merged),
		Callsites: merged,
	})
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
