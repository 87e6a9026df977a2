// Package protocol defines the WS-ReliableMessaging vocabulary spoken by the
// listener and the SOAP message model it is carried in.
//
// Two wire-compatible variants are supported: the February 2005 submission
// and the OASIS 1.1 standard. Every name, action and fault that differs
// between them is reached through a Version value.
//
// # Package Organization
//
//   - version.go: namespaces, element names, actions and fault subcodes per version
//   - message.go: Message, Header and Element, the in-memory SOAP model
//   - envelope.go: SOAP envelope encoding and decoding
//   - wire.go: XML shapes of the WS-RM headers and bodies
//   - ranges.go: the acknowledgement RangeSet
//   - fault.go: wire-sendable faults and reading received faults
//   - messages.go: builders for the WS-RM control messages
//
// # Message Model
//
// WS-Addressing headers (Action, MessageID, RelatesTo, To, ReplyTo) are
// lifted into Message fields when an envelope is decoded. Every other header
// is kept as a Header whose Element can be decoded into one of the wire
// structs on demand:
//
//	msg, err := protocol.Unmarshal(data)
//	for _, h := range msg.FindHeaders(protocol.Namespace11, protocol.ElementSequence) {
//	    var seq protocol.SequenceHeader
//	    if err := h.Decode(&seq); err != nil {
//	        ...
//	    }
//	}
//
// # Acknowledgement Ranges
//
// RangeSet is an immutable, ascending set of disjoint ranges. MergeWith
// returns the minimal cover, so [1,3] merged with [5,7] and [4,4] yields
// [1,7].
//
// # Faults
//
// A Fault pairs the description sent to the peer with the local error that
// explains it. Fault.Message renders it as a SOAP 1.2 fault for a version;
// ReadFault recovers the description from a received fault.
package protocol
