// Package store hosts the outbox store backends and the watch-count
// fan-out they share. The contract itself is outbox.Store; backends are
// memory (tests, development), sqlite (durable single-file persistence),
// and redis (deployments that already run Redis).
package store
