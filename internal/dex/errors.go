package dex

import (
	"errors"

	"github.com/coldbell/dex/trader/internal/codec"
)

var (
	ErrDecode                = codec.ErrDecode
	ErrNotFound              = errors.New("venue not found for mint")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSubmission            = errors.New("transaction submission failed")
	ErrConfirmationTimeout   = errors.New("transaction confirmation timed out")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrVenueMigrated         = errors.New("venue pool migrated or completed")
	ErrAbandoned             = errors.New("trade abandoned")
	ErrUnsupportedVenue      = errors.New("unsupported venue")
)

// Retryable reports whether the executor may resubmit after err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVenueMigrated) || errors.Is(err, ErrAbandoned) {
		return false
	}
	return errors.Is(err, ErrSubmission) ||
		errors.Is(err, ErrConfirmationTimeout) ||
		errors.Is(err, ErrSlippageExceeded)
}
