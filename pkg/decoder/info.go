package decoder

import (
	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// Operation names the control operation a message carries. The values are
// stable and used as metric labels.
type Operation string

const (
	OpNone                      Operation = "none"
	OpCreateSequence            Operation = "create_sequence"
	OpCreateSequenceResponse    Operation = "create_sequence_response"
	OpCloseSequence             Operation = "close_sequence"
	OpCloseSequenceResponse     Operation = "close_sequence_response"
	OpTerminateSequence         Operation = "terminate_sequence"
	OpTerminateSequenceResponse Operation = "terminate_sequence_response"
	OpSequence                  Operation = "sequence"
	OpAcknowledgement           Operation = "acknowledgement"
	OpAckRequested              Operation = "ack_requested"
	OpFault                     Operation = "fault"
	OpInvalid                   Operation = "invalid"
)

// CreateSequenceInfo is a decoded CreateSequence request
type CreateSequenceInfo struct {
	MessageID string
	To        string
	ReplyTo   string
	AcksTo    string
	Expires   string

	// OfferID is set when the creator proposes the paired outbound sequence
	OfferID                    protocol.SequenceID
	OfferEndpoint              string
	OfferExpires               string
	IncompleteSequenceBehavior string
}

// HasOffer reports whether the create carries an offer
func (c *CreateSequenceInfo) HasOffer() bool {
	return c != nil && !c.OfferID.IsZero()
}

// CreateSequenceResponseInfo is a decoded CreateSequenceResponse
type CreateSequenceResponseInfo struct {
	RelatesTo                  string
	Identifier                 protocol.SequenceID
	Expires                    string
	IncompleteSequenceBehavior string
	AcceptAcksTo               string
}

// RequestInfo is the decoded body of a CloseSequence or TerminateSequence
type RequestInfo struct {
	MessageID  string
	ReplyTo    string
	Identifier protocol.SequenceID
	// LastMsgNumber is zero when absent
	LastMsgNumber int64
}

// ResponseInfo is the decoded body of a CloseSequenceResponse or
// TerminateSequenceResponse
type ResponseInfo struct {
	RelatesTo  string
	Identifier protocol.SequenceID
}

// AcknowledgementInfo is a decoded SequenceAcknowledgement header
type AcknowledgementInfo struct {
	SequenceID protocol.SequenceID
	Ranges     protocol.RangeSet
	None       bool
	Final      bool
	Nacks      []int64
}

// AckRequestedInfo is a decoded AckRequested header
type AckRequestedInfo struct {
	SequenceID protocol.SequenceID
	// MessageNumber is only carried by the February 2005 version
	MessageNumber int64
}

// SequencedMessageInfo is a decoded Sequence header
type SequencedMessageInfo struct {
	SequenceID    protocol.SequenceID
	MessageNumber int64
	LastMessage   bool
}

// MessageInfo describes the reliable messaging content of one message.
//
// Body operations and the Sequence header are mutually exclusive.
// Acknowledgement and AckRequested headers may accompany any of them.
type MessageInfo struct {
	Version protocol.Version
	Action  string
	Message *protocol.Message

	CreateSequence            *CreateSequenceInfo
	CreateSequenceResponse    *CreateSequenceResponseInfo
	CloseSequence             *RequestInfo
	CloseSequenceResponse     *ResponseInfo
	TerminateSequence         *RequestInfo
	TerminateSequenceResponse *ResponseInfo
	Acknowledgement           *AcknowledgementInfo
	AckRequested              *AckRequestedInfo
	Sequence                  *SequencedMessageInfo

	// Fault is the fault this message reports, from its SOAP fault body or a
	// SequenceFault header. Fault.Err holds the converted local error.
	Fault *protocol.Fault

	// ParseErr is set when a fault message could not be read. No reply is
	// sent for it.
	ParseErr error

	faultReply *protocol.Fault
	faultErr   error
}

// FaultReply is the fault to send back for this message, if any
func (m *MessageInfo) FaultReply() *protocol.Fault {
	return m.faultReply
}

// FaultErr is the local error explaining FaultReply
func (m *MessageInfo) FaultErr() error {
	return m.faultErr
}

// SetFault records the fault to reply with and the local error behind it.
// Each may be assigned once; a second assignment is an invariant violation.
func (m *MessageInfo) SetFault(reply *protocol.Fault, err error) error {
	if m.faultReply != nil {
		return rmerrors.InvariantViolation("fault reply already set to %q", m.faultReply.Error())
	}
	if m.faultErr != nil {
		return rmerrors.InvariantViolation("fault error already set to %q", m.faultErr.Error())
	}
	m.faultReply = reply
	m.faultErr = err
	return nil
}

func (m *MessageInfo) mustSetFault(reply *protocol.Fault) {
	var err error = reply
	if reply.Err != nil {
		err = reply.Err
	}
	if e := m.SetFault(reply, err); e != nil {
		panic(e)
	}
}

// reset drops everything decoded so far
func (m *MessageInfo) reset() {
	*m = MessageInfo{
		Version:    m.Version,
		Action:     m.Action,
		Message:    m.Message,
		faultReply: m.faultReply,
		faultErr:   m.faultErr,
	}
}

// Failed reports whether the message must not be processed further
func (m *MessageInfo) Failed() bool {
	return m.faultReply != nil || m.ParseErr != nil
}

// Operation reports the primary operation carried by the message
func (m *MessageInfo) Operation() Operation {
	switch {
	case m.Failed():
		return OpInvalid
	case m.CreateSequence != nil:
		return OpCreateSequence
	case m.CreateSequenceResponse != nil:
		return OpCreateSequenceResponse
	case m.CloseSequence != nil:
		return OpCloseSequence
	case m.CloseSequenceResponse != nil:
		return OpCloseSequenceResponse
	case m.TerminateSequence != nil:
		return OpTerminateSequence
	case m.TerminateSequenceResponse != nil:
		return OpTerminateSequenceResponse
	case m.Sequence != nil:
		return OpSequence
	case m.Fault != nil:
		return OpFault
	case m.Acknowledgement != nil:
		return OpAcknowledgement
	case m.AckRequested != nil:
		return OpAckRequested
	default:
		return OpNone
	}
}

// HasReliableContent reports whether any WS-RM element was decoded
func (m *MessageInfo) HasReliableContent() bool {
	return m.Operation() != OpNone
}

// InputID returns the identifier of the inbound sequence the message
// belongs to, or "" when it names none.
func (m *MessageInfo) InputID() protocol.SequenceID {
	switch {
	case m.TerminateSequence != nil:
		return m.TerminateSequence.Identifier
	case m.Sequence != nil:
		return m.Sequence.SequenceID
	case m.AckRequested != nil:
		return m.AckRequested.SequenceID
	case m.Fault != nil && m.Fault.FaultsInput:
		return m.Fault.SequenceID
	case m.CloseSequence != nil:
		return m.CloseSequence.Identifier
	}
	return ""
}

// OutputID returns the identifier of the outbound sequence the message
// refers to, or "" when it names none.
func (m *MessageInfo) OutputID() protocol.SequenceID {
	switch {
	case m.Acknowledgement != nil:
		return m.Acknowledgement.SequenceID
	case m.Fault != nil && m.Fault.FaultsOutput:
		return m.Fault.SequenceID
	case m.TerminateSequenceResponse != nil:
		return m.TerminateSequenceResponse.Identifier
	}
	if m.Version == protocol.WSRM11 {
		switch {
		case m.CloseSequence != nil:
			return m.CloseSequence.Identifier
		case m.CloseSequenceResponse != nil:
			return m.CloseSequenceResponse.Identifier
		}
	}
	return ""
}

// IsWSRMAction reports whether action belongs to the version's namespace
func IsWSRMAction(v protocol.Version, action string) bool {
	return v.IsWSRMAction(action)
}
