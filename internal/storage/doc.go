// Package storage keeps an optional append-only journal of notification
// deliveries and operator actions.
//
// The journal is write-mostly: the only reads serve the delivery history of
// the status surface. Watch state is never restored from it.
package storage
