package domain

import (
	"errors"

	"golang.org/x/xerrors"
)

// Error kinds. Every error returned by a usecase wraps exactly one of them
// and the http layer maps the kind to a status code.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid state")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrExternal   = errors.New("external dependency failed")

	// ErrInternalServerError will throw if any the Internal Server Error happen
	ErrInternalServerError = errors.New("Internal Server Error")
)

func kind(msg string, k error) error {
	return xerrors.Errorf("%s: %w", msg, k)
}

var (
	ErrBadParamInput      = kind("given param is not valid", ErrValidation)
	ErrInvalidAmount      = kind("invalid amount", ErrValidation)
	ErrInvalidDeadline    = kind("invalid deadline", ErrValidation)
	ErrInvalidThreshold   = kind("invalid threshold policy", ErrValidation)
	ErrInvalidTimeLimit   = kind("invalid acceptance time limit", ErrValidation)
	ErrInsufficientAmount = kind("payment below connection fee", ErrValidation)
	ErrInvalidRanking     = kind("invalid ranking", ErrValidation)

	ErrDuplicateActiveBid         = kind("contractor already has an active bid", ErrConflict)
	ErrCapacityExceeded           = kind("bid capacity reached", ErrConflict)
	ErrCommitmentCapacityExceeded = kind("commitment capacity reached", ErrConflict)
	ErrDuplicateCommitment        = kind("contractor already committed", ErrConflict)
	ErrAcceptanceInProgress       = kind("another acceptance is pending payment", ErrConflict)
	ErrPaymentConflict            = kind("payment arrived for a lapsed acceptance", ErrConflict)
	ErrAlreadyJoined              = kind("owner already joined group bid", ErrConflict)
	ErrStaleVersion               = kind("aggregate modified concurrently", ErrConflict)
	ErrLockNotAcquired            = kind("aggregate is busy", ErrConflict)
	ErrDuplicateKey               = kind("already exists", ErrConflict)

	ErrInvalidTransition       = kind("transition not allowed", ErrState)
	ErrDeadlinePassed          = kind("deadline passed", ErrState)
	ErrBidCardClosed           = kind("bid card does not accept bids", ErrState)
	ErrBidNotEligible          = kind("bid is not eligible for acceptance", ErrState)
	ErrAcceptedBidImmutable    = kind("accepted bid cannot change", ErrState)
	ErrRevisionNotAcknowledged = kind("latest revision not acknowledged", ErrState)
	ErrAcceptanceNotPaid       = kind("acceptance is not paid", ErrState)
	ErrExtensionLimitReached   = kind("extension limit reached", ErrState)
	ErrGroupBidClosed          = kind("group bid is closed", ErrState)
	ErrCardNotGroupEligible    = kind("bid card is not group eligible", ErrState)

	ErrNotOwner      = kind("actor does not own the resource", ErrForbidden)
	ErrUnauthorized  = kind("missing or invalid credentials", ErrForbidden)
	ErrIdentityFetch = kind("identity lookup failed", ErrExternal)
)

var kinds = []error{ErrValidation, ErrConflict, ErrState, ErrNotFound, ErrForbidden, ErrExternal}

// KindOf returns the kind err wraps, nil when it wraps none
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
