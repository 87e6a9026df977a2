// Package wsrm implements the listener side of WS-ReliableMessaging.
//
// A reliable session listener sits on top of an ordinary inner transport
// listener (HTTP, WebSocket or in-process memory) and turns the stream of
// SOAP envelopes it receives into reliable sessions: it admits
// CreateSequence requests, routes every sequenced message, acknowledgement
// and fault to the session it belongs to, and answers everything else with
// the protocol fault the peer expects.
//
// This package is the root of the module and re-exports the pieces most
// programs need from the sub-packages:
//
//   - pkg/listener: the reliable session listener and its accept queue
//   - pkg/decoder: classification of incoming envelopes
//   - pkg/protocol: envelopes, faults and WS-RM message construction
//   - pkg/transport: inner listeners, the scheme registry and middleware
//   - pkg/config: file and environment configuration
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Creating a Listener
//
// The listener does not implement sessions itself. A SessionFactory builds
// one for every admitted sequence:
//
//	factory := func(id protocol.SequenceID, info *decoder.CreateSequenceInfo,
//	    binder *listener.Binder, handle *listener.SessionHandle) (listener.Session, error) {
//	    return newOrderSession(id, info, binder, handle), nil
//	}
//
//	registry := wsrm.NewRegistry()
//	defer registry.Close(ctx)
//
//	l, err := wsrm.Listen(ctx, registry, "http://0.0.0.0:8080/rm", factory,
//	    wsrm.WithChannelKind(wsrm.KindDuplex))
//	if err != nil {
//	    return err
//	}
//	if err := l.Open(ctx); err != nil {
//	    return err
//	}
//	for {
//	    session, err := l.Accept(ctx)
//	    if err != nil || session == nil {
//	        break
//	    }
//	    go serve(session)
//	}
//
// # Endpoints
//
// NewEndpoint assembles a listener from a Config, loaded with LoadConfig
// from a TOML or JSON file and WSRM_ environment variables, together with
// its logger, Prometheus metrics, OpenTelemetry tracing and the transport
// middleware the config enables:
//
//	cfg, err := wsrm.LoadConfig("listener.toml")
//	...
//	endpoint, err := wsrm.NewEndpoint(ctx, cfg, factory)
//	...
//	if err := endpoint.Open(ctx); err != nil {
//	    return err
//	}
//	defer endpoint.Close(ctx)
//
// # Closing
//
// Closing the listener stops admission and faults sessions nobody accepted.
// The inner listener keeps running until the last accepted session closes,
// so sessions can finish their exchanges.
package wsrm
