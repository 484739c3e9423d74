package obs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const unknownRoute = "unknown"

// RouteLabel returns the chi pattern a request matched. chi fills the pattern
// in while routing, so callers read it after the handler has run. Unmatched
// requests share one label to keep metric cardinality bounded.
func RouteLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unknownRoute
}
