package listener

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// Strategy parameterizes the pump for the shape of the inner transport
type Strategy struct {
	// Name is used in logs
	Name string

	// SessionOriented channels are peer connections. The first message on
	// such a channel decides which session the channel belongs to.
	SessionOriented bool

	// ReceiveNext waits for the next item on ch. It returns (nil, nil) at
	// end of stream.
	ReceiveNext func(ctx context.Context, ch transport.Channel) (transport.Item, error)

	// SendFault answers item with fault
	SendFault func(ctx context.Context, v protocol.Version, item transport.Item, fault *protocol.Fault) error
}

// DatagramStrategy pumps channels that carry independent exchanges from
// any number of peers
func DatagramStrategy() Strategy {
	return Strategy{
		Name:        "datagram",
		ReceiveNext: receiveNext,
		SendFault:   sendFault,
	}
}

// SessionStrategy pumps channels that each belong to one peer connection
func SessionStrategy() Strategy {
	return Strategy{
		Name:            "session",
		SessionOriented: true,
		ReceiveNext:     receiveNext,
		SendFault:       sendFault,
	}
}

// StrategyFor picks the strategy matching an inner listener shape
func StrategyFor(shape transport.Shape) Strategy {
	if shape == transport.ShapeSession {
		return SessionStrategy()
	}
	return DatagramStrategy()
}

func receiveNext(ctx context.Context, ch transport.Channel) (transport.Item, error) {
	return ch.Receive(ctx)
}

func sendFault(ctx context.Context, v protocol.Version, item transport.Item, fault *protocol.Fault) error {
	relatesTo := ""
	if msg := item.Message(); msg != nil {
		relatesTo = msg.MessageID
	}
	reply, err := fault.Message(v, relatesTo)
	if err != nil {
		return rmerrors.InternalError("send_fault", err)
	}
	return item.Reply(ctx, reply)
}

// pump accepts inner channels and routes every item they yield. Each
// channel is served by its own goroutine; deliveries to sessions run on
// goroutines of their own so the next receive never waits for them.
type pump struct {
	l        *Listener
	strategy Strategy
	logger   logging.Logger

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPump(l *Listener, strategy Strategy) *pump {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &pump{
		l:        l,
		strategy: strategy,
		logger:   l.logger.WithFields(logging.Component("pump"), logging.String("strategy", strategy.Name)),
		group:    group,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// start runs the accept loop. A non-recoverable error from any goroutine
// stops every loop and faults the listener.
func (p *pump) start() {
	p.group.Go(p.acceptLoop)
	go func() {
		defer close(p.done)
		if err := p.group.Wait(); err != nil {
			p.l.Fault(err)
		}
	}()
}

// stop cancels every loop
func (p *pump) stop() {
	p.cancel()
}

// wait blocks until every loop and delivery has returned
func (p *pump) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return rmerrors.Timeout("pump_wait", p.l.settings.CloseTimeout)
	}
}

func (p *pump) acceptLoop() error {
	for {
		actx, cancel := p.l.clock.WithTimeout(p.ctx, p.l.settings.ReceiveTimeout)
		ch, err := p.l.inner.Accept(actx)
		cancel()

		if p.ctx.Err() != nil {
			if ch != nil {
				ch.Abort()
			}
			return nil
		}
		if err != nil {
			if stop, ferr := p.handleError("accept", err); stop {
				return ferr
			}
			continue
		}
		if ch == nil {
			p.logger.Debug("Inner listener stopped accepting")
			return nil
		}

		p.logger.Debug("Inner channel accepted", logging.ChannelID(ch.ID()))
		p.group.Go(func() error {
			return p.serveChannel(ch)
		})
	}
}

// handleError classifies a pump error. Fatal errors propagate as panics,
// recoverable ones are logged. It reports whether the loop must stop and
// the error to stop it with.
func (p *pump) handleError(op string, err error) (bool, error) {
	if rmerrors.IsFatal(err) {
		panic(err)
	}
	p.l.metrics.PumpError(observability.ErrorClass(err))

	if rmerrors.IsRecoverable(err) && !p.l.terminal() {
		if rmerrors.IsCategory(rmerrors.ConvertStandardError(err), rmerrors.CategoryTimeout) {
			p.logger.WithError(err).Debug("Pump operation timed out", logging.String("operation", op))
		} else {
			p.logger.WithError(err).Warn("Recoverable pump error", logging.String("operation", op))
		}
		return false, nil
	}
	if p.l.terminal() {
		p.logger.WithError(err).Debug("Pump stopping on terminal listener", logging.String("operation", op))
		return true, nil
	}
	p.logger.WithError(err).Error("Pump failed", logging.String("operation", op))
	return true, err
}

// channelEnded reports whether err means ch will yield nothing more
func channelEnded(err error) bool {
	return rmerrors.IsCode(err, rmerrors.CodeChannelAborted) ||
		rmerrors.IsCode(err, rmerrors.CodeConnectionLost)
}

// channelState is the pump's view of one inner channel
type channelState struct {
	ch transport.Channel
	// bound is the session a session-oriented channel belongs to
	bound *sessionEntry
	// stop ends the receive loop after the current item
	stop bool
}

func (p *pump) serveChannel(ch transport.Channel) error {
	state := &channelState{ch: ch}
	logger := p.logger.WithFields(logging.ChannelID(ch.ID()))

	for !state.stop {
		rctx, cancel := p.l.clock.WithTimeout(p.ctx, p.l.settings.ReceiveTimeout)
		item, err := p.strategy.ReceiveNext(rctx, ch)
		cancel()

		if p.ctx.Err() != nil {
			if item != nil {
				item.Close()
			}
			p.abandon(state, logger)
			return nil
		}
		if err != nil {
			if channelEnded(err) {
				logger.WithError(err).Debug("Inner channel ended")
				p.release(state)
				return nil
			}
			stop, ferr := p.handleError("receive", err)
			if stop {
				return ferr
			}
			if p.strategy.SessionOriented && !rmerrors.IsCategory(rmerrors.ConvertStandardError(err), rmerrors.CategoryTimeout) {
				ch.Abort()
				p.release(state)
				return nil
			}
			continue
		}
		if item == nil {
			logger.Debug("Inner channel reached end of stream")
			p.release(state)
			cctx, cancel := p.l.clock.WithTimeout(context.Background(), p.l.settings.CloseTimeout)
			if err := ch.Close(cctx); err != nil {
				logger.WithError(err).Debug("Inner channel close failed")
				ch.Abort()
			}
			cancel()
			return nil
		}

		if err := p.route(state, item); err != nil {
			return err
		}
	}
	return nil
}

// abandon aborts a channel whose pump was cancelled. The pump only stops
// once no session is live or every session was faulted, so nothing is left
// to talk on the channel.
func (p *pump) abandon(state *channelState, logger logging.Logger) {
	logger.Debug("Aborting inner channel on pump stop", logging.Bool("bound", state.bound != nil))
	p.release(state)
	state.ch.Abort()
}

// release unbinds the channel from its session so a later connection may
// take over
func (p *pump) release(state *channelState) {
	if state.bound != nil {
		state.bound.binder.channelEnded(state.ch)
	}
}

// route decodes one item and hands it to its session, the admission path
// or a fault reply
func (p *pump) route(state *channelState, item transport.Item) error {
	info, err := p.decode(item)
	if err != nil {
		item.Close()
		return err
	}
	p.l.metrics.MessageDecoded(string(info.Operation()))
	v := p.l.version

	switch {
	case info.ParseErr != nil:
		p.logger.WithError(info.ParseErr).Debug("Dropped unreadable fault", logging.ChannelID(state.ch.ID()))
		item.Close()
		return nil

	case info.FaultReply() != nil:
		p.logger.WithError(info.FaultErr()).Debug("Rejected message", logging.ChannelID(state.ch.ID()))
		p.reply(item, info.FaultReply())
		return p.endUnbound(state)

	case info.CreateSequence != nil:
		return p.admit(state, item, info)
	}

	entry := p.l.find(info)
	if entry != nil {
		p.deliver(entry, item, info, false)
		return nil
	}

	switch {
	case info.Fault != nil:
		p.logger.WithError(info.Fault).Debug("Dropped fault for unknown sequence")
		item.Close()
	case !info.HasReliableContent():
		if v == protocol.WSRM11 {
			p.reply(item, protocol.WSRMRequiredFault(v))
		} else {
			item.Close()
		}
	default:
		id := info.InputID()
		if id.IsZero() {
			id = info.OutputID()
		}
		p.reply(item, protocol.UnknownSequenceFault(v, id))
	}
	return p.endUnbound(state)
}

// endUnbound stops a session-oriented channel whose first message did not
// establish a session
func (p *pump) endUnbound(state *channelState) error {
	if p.strategy.SessionOriented && state.bound == nil {
		cctx, cancel := p.l.clock.WithTimeout(context.Background(), p.l.settings.CloseTimeout)
		defer cancel()
		if err := state.ch.Close(cctx); err != nil {
			state.ch.Abort()
		}
		state.stop = true
	}
	return nil
}

// decode reads the WS-RM content of item. An invariant violation raised
// while decoding is returned as an error; anything else keeps panicking.
func (p *pump) decode(item transport.Item) (info *decoder.MessageInfo, err error) {
	_, span := observability.StartOperationSpan(p.ctx, p.l.tracer, "decode", trace.SpanKindInternal)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok || !rmerrors.IsInvariant(rerr) {
				panic(r)
			}
			span.RecordError(rerr)
			err = rerr
		}
	}()

	info = decoder.Decode(p.l.version, p.l.sessionContext, item.Message())
	span.SetAttributes(attribute.String("wsrm.decoded", string(info.Operation())))
	return info, nil
}

// admit runs the admission path for a CreateSequence
func (p *pump) admit(state *channelState, item transport.Item, info *decoder.MessageInfo) error {
	ctx, span := observability.StartOperationSpan(p.ctx, p.l.tracer, "admit", trace.SpanKindInternal)
	defer span.End()

	result, err := p.l.tryAdmit(info.CreateSequence, state.ch)
	if err != nil {
		observability.RecordError(ctx, err)
		item.Close()
		return err
	}
	p.l.metrics.SessionAdmission(result.result)
	span.SetAttributes(attribute.String("wsrm.admission", result.result))

	if result.refusal != nil {
		p.logger.WithError(result.refusal).Info("CreateSequence refused",
			logging.String("to", info.CreateSequence.To),
			logging.String("result", result.result))
		p.reply(item, result.refusal)
		return nil
	}

	entry := result.entry
	if p.strategy.SessionOriented && state.bound != entry {
		if result.isNew {
			state.bound = entry
		} else if entry.binder.UseNewChannel(state.ch) {
			p.logger.Info("Session moved to new inner channel",
				logging.SequenceID(entry.inputID.String()),
				logging.ChannelID(state.ch.ID()))
			state.bound = entry
		} else {
			p.logger.Info("Session refused new inner channel",
				logging.SequenceID(entry.inputID.String()),
				logging.ChannelID(state.ch.ID()))
			item.Close()
			state.ch.Abort()
			state.stop = true
			return nil
		}
	}

	if result.isNew {
		p.logger.Info("Session admitted",
			logging.SequenceID(entry.inputID.String()),
			logging.String("offer", entry.outputID.String()))
	}
	p.deliver(entry, item, info, result.dispatch)
	return nil
}

// deliver hands item to the session on its own goroutine. A newly admitted
// session is dispatched to the accept queue once it has seen its create.
func (p *pump) deliver(entry *sessionEntry, item transport.Item, info *decoder.MessageInfo, dispatch bool) {
	p.group.Go(func() error {
		defer item.Close()

		ctx, cancel := p.l.clock.WithTimeout(p.ctx, p.l.settings.SendTimeout)
		err := entry.session.Deliver(ctx, item, info)
		cancel()

		if dispatch {
			p.l.queue.Dispatch()
		}
		if err == nil {
			return nil
		}
		if stop, ferr := p.handleError("deliver", fmt.Errorf("session %s: %w", entry.inputID, err)); stop {
			return ferr
		}
		return nil
	})
}

// reply sends fault for item and releases it
func (p *pump) reply(item transport.Item, fault *protocol.Fault) {
	defer item.Close()

	code := string(fault.Code)
	if fault.Subcode.Local != "" {
		code = fault.Subcode.Local
	}
	p.l.metrics.FaultSent(code)

	ctx, cancel := p.l.clock.WithTimeout(p.ctx, p.l.settings.SendTimeout)
	defer cancel()
	if err := p.strategy.SendFault(ctx, p.l.version, item, fault); err != nil {
		p.logger.WithError(err).Debug("Fault reply failed", logging.String("fault", code))
	}
}
