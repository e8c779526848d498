package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker is a dependency the process needs before it serves queries, such
// as the Redis zone store.
type Checker interface {
	Ping(ctx context.Context) error
}

// Readiness pings every named dependency within timeout and answers 503 with
// the failing ones when any is down.
func Readiness(timeout time.Duration, deps map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Failed map[string]string `json:"failed,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready"}
		for name, c := range deps {
			if err := c.Ping(ctx); err != nil {
				if out.Failed == nil {
					out.Failed = map[string]string{}
				}
				out.Failed[name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Failed) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
