// Package transport defines the inner transport a reliable session listener
// rides on, and ships three implementations of it.
//
// # Contracts
//
//   - Listener: Open, Close, Abort and Accept over inner channels
//   - Channel: Receive items until end of stream, Abort, Close
//   - Item: one received envelope and the means to answer it
//
// Every blocking call takes a context; its deadline bounds the call.
// Accept and Receive return (nil, nil) once the listener or peer is done.
//
// # Shapes
//
// A datagram listener (ShapeDatagram) yields channels carrying independent
// exchanges from any number of peers. HTTPListener is datagram shaped: one
// shared channel, one item per POST.
//
// A session listener (ShapeSession) yields one channel per peer
// connection. WebSocketListener is session shaped: one channel per upgraded
// connection, one item per frame.
//
// MemoryListener can take either shape and connects in-process clients
// through a MemoryNetwork. Its envelopes still pass through the codec.
//
// # Registry
//
// Listeners are built through an explicitly owned Registry mapping URI
// schemes to factories:
//
//	reg := transport.NewDefaultRegistry(transport.WithRegistryLogger(logger))
//	inner, err := reg.Listen(ctx, "http://0.0.0.0:8080/rm")
//	...
//	defer reg.Close(ctx)
//
// # Middleware
//
// ReliabilityMiddleware retries accepts failing with transient transport
// errors. ObservabilityMiddleware logs and counts accepts, receives and
// replies. MiddlewareBuilder picks them from Config.Features.
//
// # Configuration
//
// Config groups the transport sections with ReliableSessionConfig, the
// read-only settings of the reliable session listener. Both carry json and
// toml tags and have Default constructors.
package transport
