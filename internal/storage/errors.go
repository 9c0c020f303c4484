package storage

import "errors"

// ErrNoIVReadings is returned when no IV readings are found for a symbol
var ErrNoIVReadings = errors.New("no IV readings found")

// ErrDuplicate is returned when a record with the same key already exists.
var ErrDuplicate = errors.New("record already exists")
