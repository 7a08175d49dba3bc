package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/gzip"

	"github.com/heapflame/heapflame/internal/testutil"
)

func TestDecompressPayload(t *testing.T) {
	payload := []byte(`{"timestamp":1}`)

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(payload)
	_ = bw.Close()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	_ = gw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
		status   int
	}{
		{name: "identity", body: payload, status: http.StatusOK},
		{name: "brotli", encoding: "br", body: br.Bytes(), status: http.StatusOK},
		{name: "gzip", encoding: "gzip", body: gz.Bytes(), status: http.StatusOK},
		{name: "invalid gzip", encoding: "gzip", body: payload, status: http.StatusBadRequest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got []byte
			handler := DecompressPayload(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = io.ReadAll(r.Body)
			}))
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(test.body))
			if test.encoding != "" {
				req.Header.Set("Content-Encoding", test.encoding)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != test.status {
				t.Fatalf("expected status code %d, got %d", test.status, w.Code)
			}
			if test.status != http.StatusOK {
				return
			}
			if diff := testutil.Diff(string(got), string(payload)); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestGetInt64Parameters(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		values map[string]int64
		ok     bool
	}{
		{name: "valid", path: "/processes/12/profiles/34", values: map[string]int64{"pid": 12, "timestamp": 34}, ok: true},
		{name: "invalid", path: "/processes/abc/profiles/34", ok: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var values map[string]int64
			var ok bool
			router := httprouter.New()
			router.Handler(http.MethodGet, "/processes/:pid/profiles/:timestamp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				values, ok = GetInt64Parameters(w, r, "pid", "timestamp")
			}))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, test.path, nil))

			if ok != test.ok {
				t.Fatalf("expected ok to be %v", test.ok)
			}
			if !ok {
				if w.Code != http.StatusBadRequest {
					t.Fatalf("expected status code 400, got %d", w.Code)
				}
				return
			}
			if diff := testutil.Diff(values, test.values); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestGetOptionalInt64QueryParameter(t *testing.T) {
	tests := []struct {
		name  string
		query string
		value int64
		ok    bool
	}{
		{name: "missing", query: "", value: 7, ok: true},
		{name: "present", query: "?ns_per_px=1000", value: 1000, ok: true},
		{name: "negative", query: "?ns_per_px=-1", ok: false},
		{name: "malformed", query: "?ns_per_px=abc", ok: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/"+test.query, nil)
			value, ok := GetOptionalInt64QueryParameter(w, r, "ns_per_px", 7)
			if ok != test.ok {
				t.Fatalf("expected ok to be %v", test.ok)
			}
			if ok && value != test.value {
				t.Fatalf("expected %d, got %d", test.value, value)
			}
			if !ok && w.Code != http.StatusBadRequest {
				t.Fatalf("expected status code 400, got %d", w.Code)
			}
		})
	}
}
