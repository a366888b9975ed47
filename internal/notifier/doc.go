// Package notifier delivers watch notifications through the configured
// channels (Telegram, email).
//
// Dispatch is synchronous: every channel is tried in order, paced by a shared
// token bucket and bounded by a per-send timeout. Failed sends are reported
// to the caller and never retried here.
//
// # History
//
// The service keeps a small in-memory history of recent deliveries for the
// operator commands, and appends each delivery to the storage journal when
// one is configured.
package notifier
