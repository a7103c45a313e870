package models

import "errors"

// Error taxonomy. Every failure surfaced to an actor wraps exactly one of
// these; handlers map them to HTTP statuses with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrAuth        = errors.New("authentication required")
	ErrForbidden   = errors.New("not permitted")
	ErrStorage     = errors.New("photo storage failed")
	ErrPersistence = errors.New("report store failed")
	ErrNotFound    = errors.New("not found")
	ErrLoad        = errors.New("could not load reports")
	ErrBusy        = errors.New("another update for this report is in progress")
)
