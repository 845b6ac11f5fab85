// Package storage persists booking history so outcomes survive restarts.
//
// The only driver is "sqlite" (pure Go, no cgo). Driver "none" or an
// empty driver disables persistence entirely; Open returns (nil, nil)
// and callers treat a nil Store as "history off".
package storage
