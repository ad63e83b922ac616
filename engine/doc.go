// Package engine wires the outbox subsystems together: store, transport,
// retry policy, lifecycle hooks, middleware, channel limits, network
// monitor, and the scheduler. It exposes the user-facing Outbox facade.
//
// This package sits above all subsystem packages so the root package
// imports none of them and stays the shared home for the model and
// contracts.
package engine
