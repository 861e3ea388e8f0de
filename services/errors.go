package services

import "errors"

// Shared errors used by the service layer and mapped to HTTP statuses and
// realtime error envelopes.
var (
	ErrValidationFailed    = errors.New("validation failed")
	ErrCreatorNameRequired = errors.New("creator name is required")
	ErrArcherNameRequired  = errors.New("archer name is required")
	ErrShootCodeRequired   = errors.New("shoot code is required")
	ErrInvalidArrowsShot   = errors.New("arrowsShot must be a non-negative number")
	ErrInvalidTotalScore   = errors.New("totalScore must be a non-negative number")

	ErrShootNotFound  = errors.New("shoot not found")
	ErrArcherNotFound = errors.New("archer not found in shoot")

	ErrArcherAlreadyJoined = errors.New("archer name is already taken in this shoot")
	ErrArcherFinished      = errors.New("archer has finished and can no longer update scores")

	ErrCodeSpaceExhausted = errors.New("could not allocate a free shoot code")
)

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrCreatorNameRequired) ||
		errors.Is(err, ErrArcherNameRequired) ||
		errors.Is(err, ErrShootCodeRequired) ||
		errors.Is(err, ErrInvalidArrowsShot) ||
		errors.Is(err, ErrInvalidTotalScore)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrShootNotFound) || errors.Is(err, ErrArcherNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrArcherAlreadyJoined) || errors.Is(err, ErrArcherFinished)
}
