package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type state int

const (
	stateDisconnected state = iota
	stateConnected
)

// StateListener receives connection state change notifications. Methods are
// called from the supervisor's event loop and must return promptly.
type StateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// Supervisor owns a broker connection and distributes channels to its
// workers. All state is owned by a single event-loop goroutine; the exported
// methods communicate with it through queued events only.
type Supervisor struct {
	url            string
	sanURL         string
	dialer         Dialer
	reconnectDelay time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	listeners      []StateListener

	events    chan any
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	connected atomic.Bool

	// Everything below is touched only by the run goroutine.
	state          state
	conn           Connection
	children       map[string]Worker
	order          []string
	reconnectTimer *time.Timer
	attempts       int
}

// Events posted by the supervisor to itself, its timer and its watchers.
type (
	connectEvent  struct{}
	shutdownEvent struct {
		conn  Connection
		cause *amqp.Error
		byApp bool
	}
	createWorkerRequest struct {
		name    string
		factory WorkerFactory
		reply   chan createWorkerResult
	}
	createWorkerResult struct {
		worker Worker
		name   string
		err    error
	}
	channelRequest struct {
		reply chan Channel
	}
	removeWorkerEvent struct {
		name string
	}
	workerNamesRequest struct {
		reply chan []string
	}
)

// Option configures the Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithReconnectDelay sets the fixed delay between reconnection attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(s *Supervisor) {
		s.reconnectDelay = delay
	}
}

// WithRequestTimeout sets the default deadline applied to CreateWorker and
// RequestChannel when the caller's context carries none.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.requestTimeout = timeout
	}
}

// WithDialer replaces the amqp091 dialer. Used by tests and by callers that
// need custom connection setup (TLS, client properties).
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) {
		s.dialer = d
	}
}

// WithStateListener registers a connection state listener.
func WithStateListener(l StateListener) Option {
	return func(s *Supervisor) {
		s.listeners = append(s.listeners, l)
	}
}

// New creates a supervisor for the given broker URL. The supervisor starts
// in the disconnected state; call Start and then Connect.
func New(url string, options ...Option) *Supervisor {
	s := &Supervisor{
		url:            url,
		sanURL:         sanitizeURL(url),
		dialer:         amqpDialer{},
		reconnectDelay: 10 * time.Second,
		requestTimeout: 5 * time.Second,
		logger:         slog.Default(),
		events:         make(chan any, 64),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		children:       make(map[string]Worker),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start launches the event loop. It does not connect; post the first connect
// attempt with Connect.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
}

// Connect posts a connection attempt to the event loop. Safe to call from
// any goroutine; a no-op while already connected.
func (s *Supervisor) Connect() {
	s.post(connectEvent{})
}

// Connected reports whether the supervisor currently owns a live connection.
func (s *Supervisor) Connected() bool {
	return s.connected.Load()
}

// CreateWorker registers a worker built by factory under the given name and
// returns it. An empty name gets a generated one. While connected, the new
// worker is handed a fresh channel before CreateWorker returns; while
// disconnected the worker is created without one and fed on the next
// connect. The wait is bounded by ctx, or by the default request timeout
// when ctx carries no deadline.
func (s *Supervisor) CreateWorker(ctx context.Context, name string, factory WorkerFactory) (Worker, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if s.isClosed() {
		return nil, ErrSupervisorClosed
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	req := createWorkerRequest{
		name:    name,
		factory: factory,
		reply:   make(chan createWorkerResult, 1),
	}

	select {
	case s.events <- req:
	case <-ctx.Done():
		return nil, s.timeoutError("createWorker")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}

	select {
	case res := <-req.reply:
		return res.worker, res.err
	case <-ctx.Done():
		return nil, s.timeoutError("createWorker")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}
}

// RequestChannel mints a channel from the owned connection. While
// disconnected it returns (nil, nil): no channel is available, but that is
// not an error. Errors are reserved for timeouts and a closed supervisor.
func (s *Supervisor) RequestChannel(ctx context.Context) (Channel, error) {
	if s.isClosed() {
		return nil, ErrSupervisorClosed
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	req := channelRequest{reply: make(chan Channel, 1)}

	select {
	case s.events <- req:
	case <-ctx.Done():
		return nil, s.timeoutError("requestChannel")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}

	select {
	case ch := <-req.reply:
		return ch, nil
	case <-ctx.Done():
		return nil, s.timeoutError("requestChannel")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}
}

// RemoveWorker drops the named worker from the registry. The worker stops
// receiving channel deliveries and disconnect notices; stopping the worker
// itself is up to the caller.
func (s *Supervisor) RemoveWorker(name string) {
	s.post(removeWorkerEvent{name: name})
}

// WorkerNames returns the names of all registered workers in creation order.
func (s *Supervisor) WorkerNames(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrSupervisorClosed
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	req := workerNamesRequest{reply: make(chan []string, 1)}

	select {
	case s.events <- req:
	case <-ctx.Done():
		return nil, s.timeoutError("workerNames")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}

	select {
	case names := <-req.reply:
		return names, nil
	case <-ctx.Done():
		return nil, s.timeoutError("workerNames")
	case <-s.done:
		return nil, ErrSupervisorClosed
	}
}

// Close stops the event loop. If the supervisor owns a connection it is
// closed, without triggering a reconnect. Close is idempotent.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	if s.started.Load() {
		<-s.stopped
	}
	return nil
}

func (s *Supervisor) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Supervisor) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s *Supervisor) timeoutError(op string) error {
	return &SupervisorError{
		Op:        op,
		URL:       s.sanURL,
		Err:       ErrRequestTimeout,
		Timestamp: time.Now(),
	}
}

// post enqueues an event from outside the loop, giving up once the
// supervisor is closed.
func (s *Supervisor) post(e any) bool {
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	}
}

// selfPost enqueues an event from within the loop. The loop must never block
// on its own queue, so a full queue falls back to a detached send.
func (s *Supervisor) selfPost(e any) {
	select {
	case s.events <- e:
	default:
		go s.post(e)
	}
}

func (s *Supervisor) run() {
	defer close(s.stopped)

	for {
		select {
		case e := <-s.events:
			s.handle(e)
		case <-s.done:
			s.terminate()
			return
		}
	}
}

func (s *Supervisor) handle(e any) {
	switch ev := e.(type) {
	case connectEvent:
		s.handleConnect()
	case shutdownEvent:
		s.handleShutdown(ev)
	case createWorkerRequest:
		s.handleCreateWorker(ev)
	case channelRequest:
		s.handleChannelRequest(ev)
	case removeWorkerEvent:
		s.handleRemoveWorker(ev)
	case workerNamesRequest:
		ev.reply <- append([]string(nil), s.order...)
	}
}

func (s *Supervisor) handleConnect() {
	if s.state == stateConnected {
		return
	}

	// An explicit Connect while a retry is pending must not leave the timer
	// armed against the new connection; at most one reconnect is ever
	// outstanding.
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	conn, err := s.dialer.Dial(s.url)
	if err != nil {
		s.attempts++
		s.logger.Error("broker connect failed",
			"url", s.sanURL,
			"error", err,
			"attempt", s.attempts,
			"retryIn", s.reconnectDelay)
		s.notifyReconnecting(s.attempts)
		s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() {
			s.post(connectEvent{})
		})
		return
	}

	s.conn = conn
	s.state = stateConnected
	s.connected.Store(true)

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go s.watchClose(conn, closes)

	s.logger.Info("connected to broker",
		"url", s.sanURL,
		"attempts", s.attempts+1,
		"workers", len(s.children))
	s.attempts = 0

	s.notifyConnected()
	s.feedChildren()
}

// watchClose marshals the broker library's close notification, which arrives
// on a foreign goroutine, into the event queue.
func (s *Supervisor) watchClose(conn Connection, closes chan *amqp.Error) {
	err, ok := <-closes
	s.post(shutdownEvent{
		conn:  conn,
		cause: err,
		byApp: !ok || err == nil,
	})
}

func (s *Supervisor) handleShutdown(ev shutdownEvent) {
	// A shutdown for a connection we no longer own is stale.
	if s.state != stateConnected || ev.conn != s.conn {
		return
	}

	s.conn = nil
	s.state = stateDisconnected
	s.connected.Store(false)

	if ev.byApp {
		s.logger.Info("connection closed by application", "url", s.sanURL)
		return
	}

	var cause error
	if ev.cause != nil {
		cause = ev.cause
	}
	s.logger.Error("lost connection to broker", "url", s.sanURL, "error", cause)

	s.selfPost(connectEvent{})
	s.notifyDisconnected(cause)
	for _, name := range s.order {
		s.children[name].HandleDisconnect(cause)
	}
}

func (s *Supervisor) handleCreateWorker(req createWorkerRequest) {
	name := req.name
	if name == "" {
		name = uuid.NewString()
	}

	if _, exists := s.children[name]; exists {
		req.reply <- createWorkerResult{err: fmt.Errorf("%w: %q", ErrWorkerExists, name)}
		return
	}

	w := req.factory()
	s.children[name] = w
	s.order = append(s.order, name)

	if s.state == stateConnected {
		ch, err := s.conn.Channel()
		if err != nil {
			s.logger.Error("channel for new worker failed", "worker", name, "error", err)
		} else {
			w.HandleChannel(ch)
		}
	}

	s.logger.Info("worker created", "worker", name, "connected", s.state == stateConnected)
	req.reply <- createWorkerResult{worker: w, name: name}
}

func (s *Supervisor) handleChannelRequest(req channelRequest) {
	if s.state != stateConnected {
		req.reply <- nil
		return
	}

	ch, err := s.conn.Channel()
	if err != nil {
		s.logger.Error("channel creation failed", "error", err)
		req.reply <- nil
		return
	}
	req.reply <- ch
}

func (s *Supervisor) handleRemoveWorker(ev removeWorkerEvent) {
	if _, exists := s.children[ev.name]; !exists {
		return
	}
	delete(s.children, ev.name)
	for i, name := range s.order {
		if name == ev.name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("worker removed", "worker", ev.name)
}

// feedChildren hands every registered worker one fresh channel. Runs on
// entry to the connected state so workers created while disconnected, or
// surviving a disconnect, get a working channel without asking.
func (s *Supervisor) feedChildren() {
	for _, name := range s.order {
		ch, err := s.conn.Channel()
		if err != nil {
			s.logger.Error("channel for worker failed", "worker", name, "error", err)
			continue
		}
		s.children[name].HandleChannel(ch)
	}
}

func (s *Supervisor) terminate() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.state == stateConnected && s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("closing connection", "error", err)
		}
		s.conn = nil
	}
	s.state = stateDisconnected
	s.connected.Store(false)
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) notifyConnected() {
	for _, l := range s.listeners {
		l.OnConnected()
	}
}

func (s *Supervisor) notifyDisconnected(err error) {
	for _, l := range s.listeners {
		l.OnDisconnected(err)
	}
}

func (s *Supervisor) notifyReconnecting(attempt int) {
	for _, l := range s.listeners {
		l.OnReconnecting(attempt)
	}
}
