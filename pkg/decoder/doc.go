// Package decoder turns one received SOAP message into a MessageInfo: the
// reliable messaging operation it carries, the sequence it belongs to, and
// the fault to reply with when it breaks the protocol.
//
// Decode is a pure function. It validates header cardinality, the shape of
// every WS-RM header and body it recognizes, and the must-understand
// obligations of the remaining headers.
//
//	info := decoder.Decode(protocol.WSRM11, decoder.SessionContext{}, msg)
//	switch {
//	case info.ParseErr != nil:
//	    // a fault that could not be read; never answered
//	case info.FaultReply() != nil:
//	    // send info.FaultReply() back, report info.FaultErr() locally
//	case info.CreateSequence != nil:
//	    ...
//	}
package decoder
