package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid input")
	ErrMarketNotOpen       = errors.New("market is not open for joining")
	ErrMarketNotActive     = errors.New("market is not active")
	ErrSelfJoin            = errors.New("cannot join your own market")
	ErrNotCreator          = errors.New("only the market creator may cancel")
	ErrMissingCounterparty = errors.New("market has no counterparty")
	ErrInvalidSettlement   = errors.New("invalid settlement value")
	ErrPaymentProofMissing = errors.New("payment signature is required")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")
)
