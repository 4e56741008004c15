package book

import "errors"

var (
	// ErrParse marks a malformed delta entry. It never aborts a batch.
	ErrParse = errors.New("malformed delta entry")
	// ErrNegativeSize is returned by the ledger for sizes below zero.
	ErrNegativeSize = errors.New("negative order size")
	// ErrConnection wraps transport failures surfaced by the ingestion loop.
	ErrConnection = errors.New("feed connection lost")
	// ErrOverflow signals that frames were dropped and the book needs a resync.
	ErrOverflow = errors.New("frame backlog overflow, resync required")
)
