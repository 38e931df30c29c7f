package types

import "cosmossdk.io/errors"

// Registered platform errors. The HTTP layer maps these to the stable
// wire codes; code 1 is reserved by the errors package.
var (
	ErrInvalidParameters = errors.Register("agent", 2, "invalid parameters")
	ErrNotFound          = errors.Register("agent", 3, "not found")
	ErrConflict          = errors.Register("agent", 4, "conflict")
	ErrStrategyInvalid   = errors.Register("agent", 5, "strategy document invalid")
	ErrUnauthorized      = errors.Register("agent", 6, "unauthorized")
	ErrInternal          = errors.Register("agent", 7, "internal error")
)
