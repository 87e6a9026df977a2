package decoder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

var (
	errNoMessage         = errors.New("no message")
	errMissingIdentifier = errors.New("missing Identifier")
	errMissingAddress    = errors.New("missing Address")
)

// FaultConverter turns a received fault that matched no WS-RM shape into a
// local error. Convert returns nil when it does not recognize the fault.
type FaultConverter interface {
	Convert(fault *protocol.Fault) error
}

// FaultConverterFunc adapts a function to FaultConverter
type FaultConverterFunc func(fault *protocol.Fault) error

// Convert calls f(fault)
func (f FaultConverterFunc) Convert(fault *protocol.Fault) error {
	return f(fault)
}

// SessionContext carries what the decoder needs to know about the channel
// the message arrived on.
type SessionContext struct {
	// Understood lists headers outside the WS-RM namespace that the channel
	// processes itself
	Understood []xml.Name
	// Converter classifies faults the decoder does not recognize
	Converter FaultConverter
}

func (c SessionContext) understands(name xml.Name) bool {
	for _, n := range c.Understood {
		if n == name {
			return true
		}
	}
	return false
}

// Option configures a single Decode call
type Option func(*options)

type options struct {
	createSequenceOnly bool
}

// CreateSequenceOnly restricts decoding to a CreateSequenceResponse. Every
// other WS-RM header and body is skipped.
func CreateSequenceOnly() Option {
	return func(o *options) {
		o.createSequenceOnly = true
	}
}

// Decode reads the WS-RM content of msg for version v.
//
// Decode never returns nil. Problems with the message are reported on the
// result: a fault message that cannot be read sets ParseErr, anything else
// sets FaultReply and FaultErr.
func Decode(v protocol.Version, ctx SessionContext, msg *protocol.Message, opts ...Option) *MessageInfo {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	info := &MessageInfo{Version: v, Message: msg}
	if msg == nil {
		info.ParseErr = rmerrors.MalformedMessage("Envelope", errNoMessage)
		return info
	}
	info.Action = msg.Action

	d := &decoding{
		v:       v,
		ns:      v.Namespace(),
		ctx:     ctx,
		opts:    o,
		msg:     msg,
		info:    info,
		claimed: make(map[int]bool),
	}

	if msg.IsFault() {
		if err := d.decodeFault(); err != nil {
			info.reset()
			info.ParseErr = localError(err)
		}
		return info
	}

	if err := d.decode(); err != nil {
		info.reset()
		info.mustSetFault(d.toFault(err))
		return info
	}
	if f := d.checkMustUnderstand(); f != nil {
		info.mustSetFault(f)
	}
	return info
}

type decoding struct {
	v    protocol.Version
	ns   string
	ctx  SessionContext
	opts options
	msg  *protocol.Message
	info *MessageInfo

	// claimed marks header indexes the decoder understands
	claimed map[int]bool
}

func (d *decoding) decode() error {
	if err := d.scanHeaders(); err != nil {
		return err
	}
	return d.decodeAction()
}

func (d *decoding) decodeFault() error {
	received, err := protocol.ReadFault(d.msg, d.ns)
	if err != nil {
		return rmerrors.MalformedMessage("Fault", err)
	}
	d.info.Fault = classify(d.v, received, d.ctx.Converter)
	return d.scanHeaders()
}

func (d *decoding) recognized(local string) bool {
	switch local {
	case protocol.ElementSequence, protocol.ElementSequenceAcknowledgement,
		protocol.ElementAckRequested, protocol.ElementSequenceFault:
		return true
	case protocol.ElementUsesSequenceSTR, protocol.ElementUsesSequenceSSL:
		return d.v == protocol.WSRM11
	default:
		return false
	}
}

// scanHeaders claims every recognized WS-RM header, rejects duplicates and
// reads the ones that describe the message.
func (d *decoding) scanHeaders() error {
	var found []int
	seen := make(map[string]bool)
	for i, h := range d.msg.Headers {
		if h.Element == nil || h.Name.Space != d.ns || !d.recognized(h.Name.Local) {
			continue
		}
		d.claimed[i] = true
		if d.opts.createSequenceOnly {
			continue
		}
		if seen[h.Name.Local] {
			return protocol.TooManyHeadersFault(d.v, h.Name.Local)
		}
		seen[h.Name.Local] = true
		found = append(found, i)
	}

	for _, i := range found {
		h := d.msg.Headers[i]
		var err error
		switch h.Name.Local {
		case protocol.ElementSequence:
			err = d.readSequence(h)
		case protocol.ElementSequenceAcknowledgement:
			err = d.readAcknowledgement(h)
		case protocol.ElementAckRequested:
			err = d.readAckRequested(h)
		case protocol.ElementSequenceFault:
			if !d.msg.IsFault() {
				err = d.readSequenceFault(h)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *decoding) decodeAction() error {
	action := d.msg.Action
	v := d.v

	if d.opts.createSequenceOnly {
		if action == v.Action(protocol.ElementCreateSequenceResponse) {
			return d.readCreateSequenceResponse()
		}
		return nil
	}

	if d.info.Sequence != nil && v.IsWSRMAction(action) && !d.carriesSequence(action) {
		return protocol.MalformedFault(v, d.sequenceID(), protocol.ElementSequence,
			fmt.Errorf("a Sequence header is not allowed on %q", action))
	}

	var err error
	switch action {
	case v.Action(protocol.ElementCreateSequence):
		err = d.readCreateSequence()
	case v.Action(protocol.ElementCreateSequenceResponse):
		err = d.readCreateSequenceResponse()
	case v.Action(protocol.ElementTerminateSequence):
		d.info.TerminateSequence, err = d.readRequest(protocol.ElementTerminateSequence)
	case v.Action(protocol.ElementSequenceAcknowledgement):
		if d.info.Acknowledgement == nil {
			err = protocol.MalformedFault(v, "", protocol.ElementSequenceAcknowledgement,
				errors.New("the action requires a SequenceAcknowledgement header"))
		}
	case v.Action(protocol.ElementAckRequested):
		if d.info.AckRequested == nil {
			err = protocol.MalformedFault(v, "", protocol.ElementAckRequested,
				errors.New("the action requires an AckRequested header"))
		}
	case v.FaultAction(), protocol.AddressingFaultAction:
		// a SequenceFault header on a non-fault body was read by scanHeaders
	default:
		switch {
		case v.HasLastMessage() && action == v.Action(protocol.ElementLastMessage):
			if d.info.Sequence == nil || !d.info.Sequence.LastMessage {
				err = protocol.MalformedFault(v, d.sequenceID(), protocol.ElementLastMessage,
					errors.New("the action requires a Sequence header carrying LastMessage"))
			}
		case v.HasCloseSequence() && action == v.Action(protocol.ElementCloseSequence):
			d.info.CloseSequence, err = d.readRequest(protocol.ElementCloseSequence)
		case v.HasCloseSequence() && action == v.Action(protocol.ElementCloseSequenceResponse):
			d.info.CloseSequenceResponse, err = d.readResponse(protocol.ElementCloseSequenceResponse)
		case v.HasTerminateSequenceResponse() && action == v.Action(protocol.ElementTerminateSequenceResponse):
			d.info.TerminateSequenceResponse, err = d.readResponse(protocol.ElementTerminateSequenceResponse)
		case v.IsWSRMAction(action):
			err = protocol.MalformedFault(v, "", "Action", fmt.Errorf("unsupported action %q", action))
		}
	}
	return err
}

func (d *decoding) carriesSequence(action string) bool {
	return d.v.HasLastMessage() && action == d.v.Action(protocol.ElementLastMessage)
}

func (d *decoding) sequenceID() protocol.SequenceID {
	if d.info.Sequence != nil {
		return d.info.Sequence.SequenceID
	}
	return ""
}

// toFault turns a decoding error into the fault sent back to the peer
func (d *decoding) toFault(err error) *protocol.Fault {
	var f *protocol.Fault
	if errors.As(err, &f) {
		return f
	}
	return protocol.MalformedFault(d.v, "", "message", err)
}

func (d *decoding) checkMustUnderstand() *protocol.Fault {
	for i, h := range d.msg.Headers {
		if h.Element == nil || d.claimed[i] || !h.MustUnderstand || !h.TargetsUltimateReceiver() {
			continue
		}
		if d.ctx.understands(h.Name) {
			continue
		}
		return protocol.MustUnderstandFault(h.Name)
	}
	return nil
}

// localError unwraps the local error of a fault
func localError(err error) error {
	var f *protocol.Fault
	if errors.As(err, &f) && f.Err != nil {
		return f.Err
	}
	return err
}

func trimID(id protocol.SequenceID) protocol.SequenceID {
	return protocol.SequenceID(strings.TrimSpace(string(id)))
}
