package supervisor

// Worker is a dependent concurrent unit (producer, consumer, RPC endpoint)
// that needs a Channel to operate. The supervisor keeps a back-reference to
// each worker it creates, used only to push notifications; worker lifecycle
// beyond creation is the caller's business.
//
// Both methods are invoked from the supervisor's event loop and must return
// promptly. Workers do their real work on their own goroutines.
type Worker interface {
	// HandleChannel delivers a fresh channel. Any previously delivered
	// channel is stale and should be discarded.
	HandleChannel(ch Channel)

	// HandleDisconnect reports an involuntary connection loss. The worker's
	// current channel is invalid; a replacement arrives via HandleChannel
	// once the supervisor has reconnected.
	HandleDisconnect(err error)
}

// WorkerFactory builds a worker. It runs on the supervisor's event loop
// during CreateWorker, after the name has been checked for uniqueness.
type WorkerFactory func() Worker
