// Package workers provides dependent workers for use with the supervisor:
// a Producer, a Consumer and an RPCServer. Each implements supervisor.Worker,
// tolerates periods without a channel, and picks up fresh channels as the
// supervisor delivers them.
package workers
