package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/gcerrors"

	"github.com/heapflame/heapflame/internal/callsite"
	"github.com/heapflame/heapflame/internal/errorutil"
	"github.com/heapflame/heapflame/internal/heapprofile"
	"github.com/heapflame/heapflame/internal/httputil"
)

type (
	postHeapProfileBody struct {
		Timestamp   int64               `json:"timestamp"`
		ProcessName string              `json:"process_name"`
		Callsites   []callsite.Callsite `json:"callsites"`
		Stacks      []callsite.Stack    `json:"stacks"`
	}

	HeapProfileKafkaMessage struct {
		PID           int64  `json:"pid"`
		Timestamp     int64  `json:"timestamp"`
		ProcessName   string `json:"process_name,omitempty"`
		CallsiteCount int    `json:"callsite_count"`
		RootSize      int64  `json:"root_size"`
	}
)

func (env *environment) postHeapProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	params, ok := httputil.GetInt64Parameters(w, r, "pid")
	if !ok {
		return
	}

	var body postHeapProfileBody
	s := sentry.StartSpan(ctx, "json.unmarshal")
	s.Description = "Decode heap profile"
	err := json.NewDecoder(r.Body).Decode(&body)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p := heapprofile.HeapProfile{
		PID:         params["pid"],
		Timestamp:   body.Timestamp,
		ProcessName: body.ProcessName,
		Callsites:   body.Callsites,
	}
	if len(body.Stacks) > 0 {
		p.Callsites = append(p.Callsites, callsite.FromStacks(body.Stacks)...)
	}

	hub.Scope().SetTags(map[string]string{
		"pid":          strconv.FormatInt(p.PID, 10),
		"process_name": p.ProcessName,
	})

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Normalize callsites"
	err = p.Normalize()
	s.Finish()
	if err != nil {
		if errors.Is(err, errorutil.ErrDataIntegrity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s = sentry.StartSpan(ctx, "blob.write")
	s.Description = "Write heap profile to storage"
	err = heapprofile.Store{Bucket: env.storage}.Write(ctx, p)
	s.Finish()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// This is a transient error, we'll retry
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			// These errors won't be retried
			hub.CaptureException(err)
			if code := gcerrors.Code(err); code == gcerrors.FailedPrecondition {
				w.WriteHeader(http.StatusPreconditionFailed)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
		return
	}
	env.callsites.Invalidate(p.Key())

	s = sentry.StartSpan(ctx, "json.marshal")
	s.Description = "Marshal heap profile Kafka message"
	b, err := json.Marshal(buildHeapProfileKafkaMessage(p))
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Send heap profile to Kafka"
	err = env.profilingWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.Key().String()),
		Topic: env.config.HeapProfilesKafkaTopic,
		Value: b,
	})
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		log.Error().Err(err).Str("selection", p.Key().String()).Msg("couldn't publish heap profile")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func buildHeapProfileKafkaMessage(p heapprofile.HeapProfile) HeapProfileKafkaMessage {
	return HeapProfileKafkaMessage{
		PID:           p.PID,
		Timestamp:     p.Timestamp,
		ProcessName:   p.ProcessName,
		CallsiteCount: len(p.Callsites),
		RootSize:      callsite.RootSize(p.Callsites),
	}
}
