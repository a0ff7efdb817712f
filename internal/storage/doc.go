// Package storage persists user profiles for the admission pipeline and broadcasts.
//
// It currently supports:
//   - User existence, ban state and last-active date
//   - Audit log appends (operator actions)
package storage
