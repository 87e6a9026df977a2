// Package listener implements the listener side of a WS-ReliableMessaging
// endpoint: it admits reliable sequences over an inner transport listener
// and routes every received message to the session it belongs to.
//
// # Sessions
//
// A Listener never implements sequences itself. For each admitted
// CreateSequence it calls the SessionFactory, which returns a Session. The
// listener hands the session the CreateSequence and every later message
// naming its sequence, and queues it for Accept once the create has been
// delivered:
//
//	l, err := listener.New(inner, factory,
//		listener.WithLogger(logger),
//		listener.WithSettings(cfg.Session))
//	if err != nil {
//		return err
//	}
//	if err := l.Open(ctx); err != nil {
//		return err
//	}
//	for {
//		s, err := l.Accept(ctx)
//		if err != nil || s == nil {
//			break
//		}
//		go serve(s)
//	}
//
// A session reports its end through its SessionHandle. The inner listener
// is shared by every session and shut down exactly once: by Close when no
// session is left, or else by the last session to leave a closed listener.
//
// # Admission
//
// A CreateSequence is refused when the listener is closing, when its offer
// breaks the rules of the channel kind, when it is addressed to an
// endpoint the listener does not serve, or when MaxPendingChannels
// sessions already wait for Accept. A retransmitted create carrying an
// offer reaches the session its first copy built.
//
// # Pumping
//
// The pump strategy follows the inner listener shape. Datagram channels
// carry messages for any session. A session-shaped channel is bound to the
// session its first message names and may move to a new connection only
// once the previous one ended.
package listener
