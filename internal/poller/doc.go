// Package poller runs the per-wallet poll loops for walletfleet.
//
// This package is internal to walletfleet. Each wallet gets its own [Loop]:
// one goroutine that invokes the remote action, reacts to an unauthorized
// result by refreshing the wallet's credential, records every transition
// in the wallet's stats entry and then sleeps for a jittered delay.
//
// The main components are:
//
//   - [Loop]: the invoke / refresh / wait cycle for a single wallet
//   - [Policy]: the delay window and optional startup stagger
//   - [Phase]: the loop's current state (idle, invoking, awaiting refresh)
//   - [Config]: the collaborator functions a loop calls
//
// Users of the walletfleet library should not need to interact with this
// package directly. Configuration is done through the root package.
package poller
