// Package outbox provides a durable, offline-tolerant delivery queue.
// Applications enqueue events into a local store; a cooperative scheduler
// claims them, pushes them through a pluggable transport, and settles
// their fate — done, retry with decorrelated-jitter backoff, or permanent
// failure. Transport delivery is at-least-once; exactly-once semantics
// rely on server-side idempotency keys carried with each entry.
//
// Outbox is designed as a library, not a service. The root package holds
// the entry model and the store/transport contracts; backends live under
// store/ (memory, sqlite, redis) and the reference HTTP transport under
// transport/httptransport. The engine package wires everything into the
// user-facing facade.
//
// # Quick Start
//
//	ob, err := engine.New(
//	    engine.WithStore(sqlitestore),
//	    engine.WithTransport(httptransport.New("https://api.example.com/events")),
//	)
//	if err != nil { ... }
//	if err := ob.Init(ctx); err != nil { ... }
//	id, err := ob.Enqueue(ctx, "orders", map[string]string{"orderId": "o-1"})
//
// At most one scheduler process may operate on a given persistent store;
// multi-process coordination is out of scope.
package outbox
