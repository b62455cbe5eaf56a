// Package stats holds the live per-wallet runtime statistics for a fleet run.
//
// This package is internal to walletfleet. It keeps one [Entry] per wallet
// inside a [Table]. Each entry has exactly one writer (the wallet's poll
// loop) and is guarded by its own mutex, so a render tick never observes a
// half-written entry.
//
// The main components are:
//
//   - [Table]: ordered collection of entries with snapshot and pub/sub support
//   - [Entry]: a single wallet's mutable statistics
//   - [Stat]: an immutable copy of an entry, safe to hand to readers
//
// Subscribers receive a copy of every entry change via buffered channels.
// Sends are non-blocking: a slow subscriber misses updates rather than
// stalling a poll loop.
package stats
