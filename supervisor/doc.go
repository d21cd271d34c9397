// Package supervisor manages the lifecycle of a single logical RabbitMQ
// connection on behalf of dependent workers.
//
// A Supervisor owns the physical connection, retries failed connection
// attempts on a fixed delay, detects involuntary disconnection through the
// broker library's close notification, and hands fresh channels to every
// registered worker after each (re)connect. Workers never touch the
// connection directly; all channel minting goes through the supervisor.
//
// The supervisor is a single-goroutine event loop. Connection handling,
// channel creation and worker notification never interleave, which keeps the
// state machine race-free without locks. Callers interact with it through
// CreateWorker and RequestChannel, both bounded request/response operations
// over the event queue.
package supervisor
