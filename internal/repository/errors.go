// Package repository defines error values shared across the data
// access layer. These sentinel values allow higher layers such as the
// ledger and the HTTP handlers to distinguish failure scenarios with
// errors.Is instead of matching on driver-specific errors. For
// example, ErrAlreadyTerminal signals that a reservation has already
// reached an end state and must not move stock again, while
// ErrInsufficientStock signals that a hold lost the availability
// check.
package repository

import "errors"

// ErrItemNotFound is returned when an item lookup matches no row.
var ErrItemNotFound = errors.New("item not found")

// ErrReservationNotFound is returned when a reservation lookup
// matches no row. Handlers should translate this into HTTP 404.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrChargeNotFound is returned when no payment charge exists for a
// provider transaction id. The settlement path logs and drops such
// confirmations; they are provider-side duplicates or misroutes.
var ErrChargeNotFound = errors.New("payment charge not found")

// ErrInsufficientStock is returned when a hold requests more units
// than the item currently has available. Handlers should translate
// this into HTTP 409 with a structured rejection.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrAlreadyTerminal is returned when Release or Commit finds the
// reservation in a terminal state. It is an expected control signal,
// not an exceptional failure: the sweeper treats it as "settlement
// won the race" and the settlement handler treats it as "the hold
// lapsed first" and compensates. It must never reach an end caller
// as an error.
var ErrAlreadyTerminal = errors.New("reservation already terminal")
