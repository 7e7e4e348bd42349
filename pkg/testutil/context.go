package testutil

import (
	"net/http"

	"authzen/pkg/domain"
	"authzen/pkg/platform/middleware/requestscope"
	"authzen/pkg/requestcontext"
)

// WithSubject sets the acting account header, as the gateway in front of
// the service would.
func WithSubject(req *http.Request, subject string) *http.Request {
	req.Header.Set(requestscope.HeaderSubject, subject)
	return req
}

// WithTransaction sets the transaction header. A zero id leaves the request
// outside any transaction.
func WithTransaction(req *http.Request, txID domain.TransactionID) *http.Request {
	if !txID.IsZero() {
		req.Header.Set(requestscope.HeaderTransactionID, txID.String())
	}
	return req
}

// WithScope injects subject and transaction straight into the request
// context, for handlers tested without the requestscope middleware.
func WithScope(req *http.Request, subject string, txID domain.TransactionID) *http.Request {
	ctx := req.Context()
	if subject != "" {
		ctx = requestcontext.WithSubject(ctx, subject)
	}
	if !txID.IsZero() {
		ctx = requestcontext.WithTransactionID(ctx, txID)
	}
	return req.WithContext(ctx)
}
