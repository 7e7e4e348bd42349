// Package health serves readiness over the dependencies a server needs.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"authzen/pkg/platform/httputil"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Handler runs every check and answers 200 when all pass, 503 otherwise.
// The body names each dependency with "ok" or its error.
func Handler(logger *slog.Logger, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				if logger != nil {
					logger.WarnContext(ctx, "health check failed",
						"dependency", name,
						"error", err,
					)
				}
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}
