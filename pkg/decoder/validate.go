package decoder

import (
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// ValidateAcknowledgement checks that ack covers no message beyond sent,
// the highest number sent on the outbound sequence.
func ValidateAcknowledgement(v protocol.Version, ack *AcknowledgementInfo, sent int64) *protocol.Fault {
	if ack == nil {
		return nil
	}
	if highest, ok := ack.Ranges.Highest(); ok && highest.Upper > sent {
		return protocol.InvalidAcknowledgementFault(v, ack.SequenceID, ack.Ranges)
	}
	return nil
}

// ValidateFinalAck checks the acknowledgement closing outbound sequence
// outputID: it must be marked Final and cover exactly 1..last.
func ValidateFinalAck(v protocol.Version, outputID protocol.SequenceID, ack *AcknowledgementInfo, last int64) *protocol.Fault {
	if ack == nil || !ack.Final {
		return protocol.SequenceTerminatedFault(v, outputID, "The final acknowledgement for the sequence is missing")
	}

	if last == 0 {
		if ack.Ranges.IsEmpty() {
			return nil
		}
	} else if ack.Ranges.Len() == 1 && ack.Ranges.At(0) == (protocol.Range{Lower: 1, Upper: last}) {
		return nil
	}
	return protocol.InvalidAcknowledgementFault(v, outputID, ack.Ranges)
}
