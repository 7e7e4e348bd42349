package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "authzen/pkg/domain-errors"
)

const maxTransactionIDLength = 128

// TransactionID correlates the storage actions and PIP reads of one logical
// unit of work. The zero value means the caller is outside any transaction.
type TransactionID string

// NewTransactionID mints a random transaction id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// ParseTransactionID validates a client supplied transaction id. Ids are
// opaque but restricted to printable ASCII without braces so they can be
// embedded in cache keys.
func ParseTransactionID(s string) (TransactionID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction id is required")
	}
	if len(s) > maxTransactionIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction id is too long")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e || c == '{' || c == '}' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "transaction id contains invalid characters")
		}
	}
	return TransactionID(s), nil
}

// IsZero reports whether no transaction is active.
func (t TransactionID) IsZero() bool { return t == "" }

func (t TransactionID) String() string { return string(t) }
