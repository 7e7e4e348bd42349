// Package requestscope lifts request headers into requestcontext values so
// services never read net/http types directly.
package requestscope

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/platform/httputil"
	"authzen/pkg/requestcontext"
)

const (
	// HeaderTransactionID carries the logical transaction between the calling
	// service, the policy engine and the PIP.
	HeaderTransactionID = "X-Transaction-Id"
	// HeaderSubject identifies the acting account. Token validation happens
	// in front of this service.
	HeaderSubject = "X-Account-Id"
)

// RequestTime captures the current time at the start of the request so every
// timestamp written during the request agrees.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID copies chi's request id into requestcontext. Mount after
// chimw.RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject reads the acting account from HeaderSubject when present.
func Subject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := r.Header.Get(HeaderSubject); subject != "" {
			r = r.WithContext(requestcontext.WithSubject(r.Context(), subject))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSubject rejects requests without an acting account.
func RequireSubject(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.Subject(ctx) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing subject",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Transaction parses HeaderTransactionID. Requests without the header run
// outside any transaction; malformed ids are rejected.
func Transaction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderTransactionID)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		txID, err := domain.ParseTransactionID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.Header().Set(HeaderTransactionID, txID.String())
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTransactionID(r.Context(), txID)))
	})
}
