package types

import (
	"cosmossdk.io/errors"
)

// Exchange error codes. The HTTP layer maps these to the stable wire codes.
var (
	ErrInvalidParameters  = errors.Register("exchange", 2, "invalid parameters")
	ErrUnauthorized       = errors.Register("exchange", 3, "unauthorized")
	ErrForbidden          = errors.Register("exchange", 4, "forbidden")
	ErrNotFound           = errors.Register("exchange", 5, "not found")
	ErrConflict           = errors.Register("exchange", 6, "conflict")
	ErrInsufficientFunds  = errors.Register("exchange", 7, "insufficient funds")
	ErrInsufficientShares = errors.Register("exchange", 8, "insufficient shares")
	ErrSettlementFailed   = errors.Register("exchange", 9, "settlement failed")
	ErrRateLimited        = errors.Register("exchange", 10, "rate limited")
	ErrInternal           = errors.Register("exchange", 11, "internal error")
)
