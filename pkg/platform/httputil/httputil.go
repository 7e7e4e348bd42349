// Package httputil holds JSON response helpers shared by all handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/platform/sentinel"
)

const maxBodyBytes = 1 << 20

// errorResponse is the JSON envelope for every error body.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRawJSON writes an already encoded body.
func WriteRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError translates err into a status code and JSON envelope. Errors
// without a code are reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	code, ok := ErrorCode(err)
	if !ok {
		code = dErrors.CodeInternal
	}
	WriteErrorCode(w, code, err)
}

// WriteErrorCode writes err using an explicit code. Internal errors never
// expose their description.
func WriteErrorCode(w http.ResponseWriter, code dErrors.Code, err error) {
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.Description = describe(err)
	}
	WriteJSON(w, StatusFor(code), resp)
}

// ErrorCode resolves the domain code of err, falling back to the
// infrastructure sentinels stores return.
func ErrorCode(err error) (dErrors.Code, bool) {
	if code, ok := dErrors.CodeOf(err); ok {
		return code, true
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.CodeNotFound, true
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.CodeConflict, true
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.CodeUnavailable, true
	}
	return "", false
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads a size-limited JSON body into a new T.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid json request body")
	}
	return &v, nil
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	if msg := dErrors.MessageOf(err); msg != "" {
		return msg
	}
	return err.Error()
}
