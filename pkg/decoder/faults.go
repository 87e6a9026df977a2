package decoder

import (
	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

var sequenceFaultCodes = map[string]int{
	protocol.FaultUnknownSequence:           rmerrors.CodeUnknownSequence,
	protocol.FaultSequenceTerminated:        rmerrors.CodeSequenceTerminated,
	protocol.FaultInvalidAcknowledgement:    rmerrors.CodeInvalidAcknowledgement,
	protocol.FaultMessageNumberRollover:     rmerrors.CodeMessageNumberRollover,
	protocol.FaultLastMessageNumberExceeded: rmerrors.CodeLastMessageNumberExceeded,
	protocol.FaultSequenceClosed:            rmerrors.CodeSequenceClosed,
	protocol.FaultWSRMRequired:              rmerrors.CodeWSRMRequired,
}

// classify matches a received fault against the version's WS-RM faults,
// then the converter, and falls back to an unrecognized fault error.
func classify(v protocol.Version, received *protocol.Fault, conv FaultConverter) *protocol.Fault {
	if known := wsrmFault(v, received); known != nil {
		return known
	}

	out := *received
	if conv != nil {
		if err := conv.Convert(received); err != nil {
			out.Err = err
			return &out
		}
	}

	space, name := received.Subcode.Space, received.Subcode.Local
	if name == "" {
		space, name = protocol.NamespaceSOAP12, string(received.Code)
	}
	out.Err = rmerrors.UnrecognizedFault(space, name, received.Reason)
	return &out
}

func wsrmFault(v protocol.Version, received *protocol.Fault) *protocol.Fault {
	if received.Subcode.Space != v.Namespace() {
		return nil
	}

	id := received.SequenceID
	var known *protocol.Fault
	switch received.Subcode.Local {
	case protocol.FaultUnknownSequence:
		known = protocol.UnknownSequenceFault(v, id)
	case protocol.FaultSequenceTerminated:
		known = protocol.SequenceTerminatedFault(v, id, received.Reason)
	case protocol.FaultInvalidAcknowledgement:
		known = protocol.InvalidAcknowledgementFault(v, id, protocol.RangeSet{})
	case protocol.FaultMessageNumberRollover:
		known = protocol.MessageNumberRolloverFault(v, id)
	case protocol.FaultLastMessageNumberExceeded:
		if v == protocol.WSRMFeb2005 {
			known = protocol.LastMessageNumberExceededFault(v, id)
		}
	case protocol.FaultSequenceClosed:
		if v == protocol.WSRM11 {
			known = protocol.SequenceClosedFault(v, id)
		}
	case protocol.FaultWSRMRequired:
		if v == protocol.WSRM11 {
			known = protocol.WSRMRequiredFault(v)
		}
	case protocol.FaultCreateSequenceRefused:
		known = protocol.CreateSequenceRefusedFault(v, received.Reason)
	}
	if known == nil {
		return nil
	}

	known.Code = received.Code
	known.SubSubcode = received.SubSubcode
	if received.Reason != "" {
		known.Reason = received.Reason
		if code, ok := sequenceFaultCodes[received.Subcode.Local]; ok {
			known.Err = rmerrors.SequenceFault(code, string(id), received.Reason)
		}
	}
	return known
}
