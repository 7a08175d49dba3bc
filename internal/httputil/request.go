package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// GetInt64Parameters reads the named route parameters as integers. If any is
// missing or malformed, it writes a 400 status code along with the reason
// and returns false.
func GetInt64Parameters(w http.ResponseWriter, r *http.Request, names ...string) (map[string]int64, bool) {
	ps := httprouter.ParamsFromContext(r.Context())
	values := make(map[string]int64, len(names))
	for _, name := range names {
		v, err := strconv.ParseInt(ps.ByName(name), 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s parameter", name), http.StatusBadRequest)
			return nil, false
		}
		values[name] = v
	}
	return values, true
}

// GetOptionalInt64QueryParameter reads an integer query parameter. A missing
// parameter returns fallback. A malformed one writes a 400 status code and
// returns false.
func GetOptionalInt64QueryParameter(w http.ResponseWriter, r *http.Request, name string, fallback int64) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		http.Error(w, fmt.Sprintf("expected a non-negative integer for the %s query parameter", name), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}
