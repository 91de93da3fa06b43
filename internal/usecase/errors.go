package usecase

import "errors"

// Input errors. Each maps to a client error at the HTTP boundary.
var (
	ErrMissingImage      = errors.New("image file is required")
	ErrMissingHeight     = errors.New("rider_height_cm is required")
	ErrHeightNotNumeric  = errors.New("rider_height_cm must be numeric")
	ErrHeightNotPositive = errors.New("rider_height_cm must be a positive, finite number")
	ErrUndecodableImage  = errors.New("image could not be decoded")
	ErrNoLandmarks       = errors.New("no body landmarks detected, try a clearer full-body photo")
)

// ErrHistoryDisabled is returned by history lookups when no repository is configured.
var ErrHistoryDisabled = errors.New("analysis history is not enabled")

var clientErrors = []error{
	ErrMissingImage,
	ErrMissingHeight,
	ErrHeightNotNumeric,
	ErrHeightNotPositive,
	ErrUndecodableImage,
	ErrNoLandmarks,
}

// ClientError returns the input error err was caused by, if any.
func ClientError(err error) (error, bool) {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return target, true
		}
	}
	return nil, false
}
