package listener

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// State is the lifecycle state of a Listener
type State int

const (
	StateCreated State = iota
	StateOpening
	StateOpened
	StateClosing
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Listener is a reliable session listener layered over an inner transport
// listener. It admits sequences, routes every message to its session and
// shares the inner listener among all sessions.
type Listener struct {
	inner   transport.Listener
	factory SessionFactory

	settings       transport.ReliableSessionConfig
	version        protocol.Version
	kind           ChannelKind
	localAddresses []string
	sessionContext decoder.SessionContext
	strategy       *Strategy

	logger  logging.Logger
	metrics observability.ListenerMetrics
	tracer  trace.Tracer
	clock   clock.Clock

	// mu guards the session table, the coordinator state and state
	mu    sync.Mutex
	state State
	table *sessionTable
	coord *coordinator

	queue *AcceptQueue
	pump  *pump

	faultOnce sync.Once
	faultErr  error
}

// New creates a listener over inner. factory builds the session of every
// admitted sequence.
func New(inner transport.Listener, factory SessionFactory, opts ...Option) (*Listener, error) {
	if inner == nil {
		return nil, rmerrors.InvalidFieldValue("inner", nil, "an inner listener is required")
	}
	if factory == nil {
		return nil, rmerrors.InvalidFieldValue("factory", nil, "a session factory is required")
	}

	l := &Listener{
		inner:    inner,
		factory:  factory,
		settings: transport.DefaultReliableSessionConfig(),
		kind:     KindDuplex,
		logger:   logging.NewNopLogger(),
		metrics:  observability.NoopMetrics{},
		tracer:   noop.NewTracerProvider().Tracer(""),
		clock:    clock.New(),
		queue:    NewAcceptQueue(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.settings.Validate(); err != nil {
		return nil, err
	}
	version, err := l.settings.ProtocolVersion()
	if err != nil {
		return nil, err
	}
	l.version = version

	l.logger = l.logger.WithFields(
		logging.Component("reliable_listener"),
		logging.String("addr", inner.Addr()),
		logging.String("version", version.String()))

	l.table, err = newSessionTable(&l.mu, version, l.kind, l.settings.MaxPendingChannels,
		l.settings.MaxRecentOffers, l.localAddresses)
	if err != nil {
		return nil, err
	}
	l.coord = &coordinator{
		mu:      &l.mu,
		table:   l.table,
		inner:   inner,
		clock:   l.clock,
		logger:  l.logger,
		metrics: l.metrics,
	}

	strategy := StrategyFor(inner.Shape())
	if l.strategy != nil {
		strategy = *l.strategy
	}
	l.pump = newPump(l, strategy)
	return l, nil
}

// Listen builds the inner listener for uri through registry and layers a
// reliable session listener over it
func Listen(ctx context.Context, registry *transport.Registry, uri string, factory SessionFactory, opts ...Option) (*Listener, error) {
	inner, err := registry.Listen(ctx, uri)
	if err != nil {
		return nil, err
	}
	l, err := New(inner, factory, opts...)
	if err != nil {
		inner.Abort()
		return nil, err
	}
	return l, nil
}

// Open opens the inner listener and starts pumping. Failing to open the
// inner listener in time faults the listener.
func (l *Listener) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateCreated {
		state := l.state
		l.mu.Unlock()
		return rmerrors.InvalidState("open", state.String())
	}
	l.state = StateOpening
	l.mu.Unlock()

	octx, cancel := l.clock.WithTimeout(ctx, l.settings.OpenTimeout)
	defer cancel()
	if err := l.inner.Open(octx); err != nil {
		l.logger.WithError(err).Error("Inner listener open failed")
		l.Fault(err)
		return err
	}

	l.mu.Lock()
	if l.state != StateOpening {
		state := l.state
		l.mu.Unlock()
		return rmerrors.InvalidState("open", state.String())
	}
	l.state = StateOpened
	l.mu.Unlock()

	l.pump.start()
	l.logger.Info("Reliable listener open",
		logging.String("shape", l.inner.Shape().String()),
		logging.String("kind", l.kind.String()))
	return nil
}

// Accept waits for the next admitted session. It returns (nil, nil) once
// the listener is closed.
func (l *Listener) Accept(ctx context.Context) (Session, error) {
	if state := l.State(); state == StateCreated || state == StateOpening {
		return nil, rmerrors.InvalidState("accept", state.String())
	}
	s, err := l.queue.Dequeue(ctx)
	if err != nil || s == nil {
		if l.State() == StateFaulted {
			return nil, rmerrors.ListenerFaulted(l.faultErr)
		}
		return nil, err
	}
	l.updateGauges()
	return s, nil
}

// Close stops admitting sessions. Sessions that were never accepted are
// faulted. The inner listener closes now if no session is left, otherwise
// when the last session closes.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateClosing, StateClosed, StateFaulted:
		l.mu.Unlock()
		return nil
	case StateCreated:
		l.state = StateClosed
		l.mu.Unlock()
		l.queue.Close()
		l.coord.forceAbort()
		return nil
	}
	l.state = StateClosing
	l.mu.Unlock()

	l.faultPending(rmerrors.ListenerClosed("reliable"))

	cctx, cancel := l.clock.WithTimeout(ctx, l.settings.CloseTimeout)
	defer cancel()
	shutDown, err := l.coord.onListenerClose(cctx)

	l.mu.Lock()
	if l.state == StateClosing {
		l.state = StateClosed
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.WithError(err).Error("Reliable listener close failed")
		return err
	}
	if shutDown {
		l.pump.stop()
		if err := l.pump.wait(cctx); err != nil {
			return err
		}
	}
	l.logger.Info("Reliable listener closed", logging.Int("sessions", l.Sessions()))
	return nil
}

// Abort stops admitting sessions immediately. Live sessions keep the inner
// listener until they abort or close.
func (l *Listener) Abort() {
	l.mu.Lock()
	switch l.state {
	case StateClosed, StateFaulted:
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.mu.Unlock()

	l.faultPending(rmerrors.ListenerClosed("reliable"))
	if l.coord.onListenerAbort() {
		l.pump.stop()
	}
	l.logger.Info("Reliable listener aborted")
}

// Fault stops every pump, faults all sessions and aborts the inner
// listener
func (l *Listener) Fault(err error) {
	l.faultOnce.Do(func() {
		l.mu.Lock()
		l.state = StateFaulted
		l.faultErr = err
		entries := l.table.entries()
		l.mu.Unlock()

		l.logger.WithError(err).Error("Reliable listener faulted", logging.Int("sessions", len(entries)))
		l.pump.stop()
		l.queue.Close()

		faultErr := rmerrors.ListenerFaulted(err)
		for _, e := range entries {
			e.session.Fault(faultErr)
			l.onSessionAbort(e.inputID, e.outputID)
		}
		l.coord.forceAbort()
	})
}

// faultPending faults sessions admitted but never accepted
func (l *Listener) faultPending(reason error) {
	for _, s := range l.queue.Close() {
		l.mu.Lock()
		var entry *sessionEntry
		if e, ok := l.table.byInput[s.ID()]; ok {
			entry = e
		}
		l.mu.Unlock()

		s.Fault(reason)
		if entry != nil {
			l.onSessionAbort(entry.inputID, entry.outputID)
		}
	}
}

// State returns the lifecycle state
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Settings returns the reliable session settings
func (l *Listener) Settings() transport.ReliableSessionConfig {
	return l.settings
}

// Version returns the protocol version the listener speaks
func (l *Listener) Version() protocol.Version {
	return l.version
}

// Addr returns the address of the inner listener
func (l *Listener) Addr() string {
	return l.inner.Addr()
}

// Sessions counts live sessions
func (l *Listener) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.len()
}

// Pending counts sessions admitted but not yet accepted
func (l *Listener) Pending() int {
	return l.queue.Pending()
}

// Err returns the error that faulted the listener
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faultErr
}

func (l *Listener) updateGauges() {
	l.mu.Lock()
	live := l.table.len()
	l.mu.Unlock()
	l.metrics.SetSessions(live, l.queue.Pending())
}

// terminal reports whether the listener faulted or its inner listener was
// shut down
func (l *Listener) terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateFaulted || l.coord.claimed
}

func (l *Listener) acceptingLocked() bool {
	return l.state == StateOpened && !l.coord.closed
}

// tryAdmit admits a CreateSequence under the listener lock
func (l *Listener) tryAdmit(info *decoder.CreateSequenceInfo, ch transport.Channel) (admission, error) {
	var invariant error

	l.mu.Lock()
	result := l.table.tryAdmit(info, l.acceptingLocked(), l.queue.Pending(),
		func(id, offer protocol.SequenceID) (*sessionEntry, error) {
			handle := &SessionHandle{listener: l, inputID: id, outputID: offer}
			binder := newBinder(ch, l.inner.Shape())
			s, err := l.factory(id, info, binder, handle)
			if err != nil {
				return nil, err
			}
			if s == nil || s.ID() != id {
				invariant = rmerrors.InvariantViolation("session factory returned a session not identified by %s", id)
				return nil, invariant
			}
			if err := l.queue.EnqueueWithoutDispatch(s); err != nil {
				if rmerrors.IsInvariant(err) {
					invariant = err
				}
				return nil, err
			}
			l.coord.sessionAdded()
			return &sessionEntry{inputID: id, outputID: offer, session: s, binder: binder, handle: handle}, nil
		})
	live := l.table.len()
	l.mu.Unlock()

	if invariant != nil {
		return result, invariant
	}
	l.metrics.SetSessions(live, l.queue.Pending())
	return result, nil
}

// find resolves a message to its session
func (l *Listener) find(info *decoder.MessageInfo) *sessionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.find(info)
}

func (l *Listener) onSessionAbort(inputID, outputID protocol.SequenceID) {
	l.coord.onSessionAbort(inputID, outputID)
	l.updateGauges()
	if l.coord.isClaimed() {
		l.pump.stop()
	}
}

func (l *Listener) onSessionClose(ctx context.Context, inputID, outputID protocol.SequenceID) error {
	cctx, cancel := l.clock.WithTimeout(ctx, l.settings.CloseTimeout)
	defer cancel()
	err := l.coord.onSessionGracefulClose(cctx, inputID, outputID)
	l.updateGauges()
	if l.coord.isClaimed() {
		l.pump.stop()
	}
	return err
}
