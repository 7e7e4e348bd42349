package cart

import (
	dErrors "authzen/pkg/domain-errors"
)

var (
	ErrNoIdentifier    = dErrors.New(dErrors.CodeInvalidInput, "one of email or username is required")
	ErrBothIdentifiers = dErrors.New(dErrors.CodeInvalidInput, "email and username are mutually exclusive")
	ErrNameRequired    = dErrors.New(dErrors.CodeInvalidInput, "item name is required")
)
