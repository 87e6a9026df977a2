package transport

import (
	"context"
	"time"

	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// ChannelMetrics receives inner transport events. observability.ListenerMetrics
// implements it.
type ChannelMetrics interface {
	ChannelAccepted(shape string)
	ItemReceived(shape string)
	ReplySent(shape string, duration time.Duration, err error)
}

// ObservabilityMiddleware adds logging and metrics to accepts, receives and
// replies
type ObservabilityMiddleware struct {
	logger  logging.Logger
	metrics ChannelMetrics
}

// NewObservabilityMiddleware creates a new observability middleware.
// metrics may be nil.
func NewObservabilityMiddleware(logger logging.Logger, metrics ChannelMetrics) Middleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ObservabilityMiddleware{
		logger:  logger.WithFields(logging.Component("inner_transport")),
		metrics: metrics,
	}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(listener Listener) Listener {
	return &observabilityListener{
		middlewareListener: middlewareListener{next: listener},
		middleware:         om,
		shape:              listener.Shape().String(),
	}
}

type observabilityListener struct {
	middlewareListener
	middleware *ObservabilityMiddleware
	shape      string
}

func (ol *observabilityListener) Open(ctx context.Context) error {
	start := time.Now()
	err := ol.middlewareListener.Open(ctx)
	if err != nil {
		ol.middleware.logger.WithError(err).Error("Inner listener open failed", logging.String("addr", ol.Addr()))
		return err
	}
	ol.middleware.logger.Info("Inner listener open",
		logging.String("addr", ol.Addr()),
		logging.String("shape", ol.shape),
		logging.Duration("duration", time.Since(start)))
	return nil
}

func (ol *observabilityListener) Close(ctx context.Context) error {
	err := ol.middlewareListener.Close(ctx)
	if err != nil {
		ol.middleware.logger.WithError(err).Warn("Inner listener close failed", logging.String("addr", ol.Addr()))
		return err
	}
	ol.middleware.logger.Info("Inner listener closed", logging.String("addr", ol.Addr()))
	return nil
}

func (ol *observabilityListener) Abort() {
	ol.middleware.logger.Info("Inner listener aborted", logging.String("addr", ol.Addr()))
	ol.middlewareListener.Abort()
}

func (ol *observabilityListener) Accept(ctx context.Context) (Channel, error) {
	ch, err := ol.middlewareListener.Accept(ctx)
	if err != nil || ch == nil {
		return ch, err
	}
	ol.middleware.logger.Debug("Channel accepted", logging.ChannelID(ch.ID()))
	if ol.middleware.metrics != nil {
		ol.middleware.metrics.ChannelAccepted(ol.shape)
	}
	return &observabilityChannel{Channel: ch, listener: ol}, nil
}

type observabilityChannel struct {
	Channel
	listener *observabilityListener
}

func (oc *observabilityChannel) Receive(ctx context.Context) (Item, error) {
	item, err := oc.Channel.Receive(ctx)
	if err != nil {
		oc.listener.middleware.logger.WithError(err).Debug("Receive failed", logging.ChannelID(oc.ID()))
		return nil, err
	}
	if item == nil {
		oc.listener.middleware.logger.Debug("Channel reached end of stream", logging.ChannelID(oc.ID()))
		return nil, nil
	}
	if oc.listener.middleware.metrics != nil {
		oc.listener.middleware.metrics.ItemReceived(oc.listener.shape)
	}
	return &observabilityItem{Item: item, channel: oc}, nil
}

type observabilityItem struct {
	Item
	channel *observabilityChannel
}

func (oi *observabilityItem) Reply(ctx context.Context, msg *protocol.Message) error {
	start := time.Now()
	err := oi.Item.Reply(ctx, msg)
	duration := time.Since(start)

	mw := oi.channel.listener.middleware
	if err != nil {
		mw.logger.WithError(err).Warn("Reply failed",
			logging.ChannelID(oi.channel.ID()),
			logging.String("action", msg.Action))
	} else {
		mw.logger.Debug("Reply sent",
			logging.ChannelID(oi.channel.ID()),
			logging.String("action", msg.Action),
			logging.Duration("duration", duration))
	}
	if mw.metrics != nil {
		mw.metrics.ReplySent(oi.channel.listener.shape, duration, err)
	}
	return err
}
