package protocol

import (
	"strconv"
)

// Offer proposes the identifier of the paired outbound sequence
type Offer struct {
	Identifier                 SequenceID
	Endpoint                   string
	Expires                    string
	IncompleteSequenceBehavior string
}

func bodyMessage(v Version, element string, content interface{}) (*Message, error) {
	msg := NewMessage(v.Action(element))
	body, err := NewElement(v.Name(element), nil, content)
	if err != nil {
		return nil, err
	}
	msg.Body = body
	return msg, nil
}

func formatNumber(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// NewCreateSequence builds a CreateSequence request. offer may be nil.
func NewCreateSequence(v Version, to, acksTo string, offer *Offer) (*Message, error) {
	body := CreateSequenceBody{AcksTo: EndpointReference{Address: acksTo}}
	if offer != nil {
		o := &OfferBody{Identifier: offer.Identifier, Expires: offer.Expires}
		if v == WSRM11 {
			endpoint := offer.Endpoint
			if endpoint == "" {
				endpoint = acksTo
			}
			o.Endpoint = &EndpointReference{Address: endpoint}
			o.IncompleteSequenceBehavior = offer.IncompleteSequenceBehavior
		}
		body.Offer = o
	}

	msg, err := bodyMessage(v, ElementCreateSequence, body)
	if err != nil {
		return nil, err
	}
	msg.To = to
	msg.ReplyTo = acksTo
	return msg, nil
}

// NewCreateSequenceResponse builds the reply admitting sequence id. A
// non-empty acceptAcksTo accepts the offer of a duplex create.
func NewCreateSequenceResponse(v Version, relatesTo string, id SequenceID, acceptAcksTo string) (*Message, error) {
	body := CreateSequenceResponseBody{Identifier: id}
	if acceptAcksTo != "" {
		body.Accept = &AcceptBody{AcksTo: EndpointReference{Address: acceptAcksTo}}
	}
	msg, err := bodyMessage(v, ElementCreateSequenceResponse, body)
	if err != nil {
		return nil, err
	}
	msg.RelatesTo = relatesTo
	return msg, nil
}

// NewTerminateSequence builds a TerminateSequence request. lastMsgNumber is
// only written for WS-RM 1.1 and only when positive.
func NewTerminateSequence(v Version, id SequenceID, lastMsgNumber int64) (*Message, error) {
	body := SequenceRequestBody{Identifier: id}
	if v == WSRM11 {
		body.LastMsgNumber = formatNumber(lastMsgNumber)
	}
	return bodyMessage(v, ElementTerminateSequence, body)
}

// NewTerminateSequenceResponse builds the WS-RM 1.1 TerminateSequenceResponse
func NewTerminateSequenceResponse(relatesTo string, id SequenceID) (*Message, error) {
	msg, err := bodyMessage(WSRM11, ElementTerminateSequenceResponse, SequenceResponseBody{Identifier: id})
	if err != nil {
		return nil, err
	}
	msg.RelatesTo = relatesTo
	return msg, nil
}

// NewCloseSequence builds the WS-RM 1.1 CloseSequence request
func NewCloseSequence(id SequenceID, lastMsgNumber int64) (*Message, error) {
	return bodyMessage(WSRM11, ElementCloseSequence, SequenceRequestBody{
		Identifier:    id,
		LastMsgNumber: formatNumber(lastMsgNumber),
	})
}

// NewCloseSequenceResponse builds the WS-RM 1.1 CloseSequenceResponse
func NewCloseSequenceResponse(relatesTo string, id SequenceID) (*Message, error) {
	msg, err := bodyMessage(WSRM11, ElementCloseSequenceResponse, SequenceResponseBody{Identifier: id})
	if err != nil {
		return nil, err
	}
	msg.RelatesTo = relatesTo
	return msg, nil
}

// AddSequenceHeader stamps msg as message number of sequence id. last is
// only written for the February 2005 version.
func AddSequenceHeader(msg *Message, v Version, id SequenceID, number int64, last bool) error {
	content := SequenceHeader{Identifier: id, MessageNumber: strconv.FormatInt(number, 10)}
	if last && v.HasLastMessage() {
		content.LastMessage = &Marker{}
	}
	h, err := NewHeader(v.Name(ElementSequence), true, content)
	if err != nil {
		return err
	}
	msg.AddHeader(h)
	return nil
}

// NewSequencedMessage builds an application message carrying a Sequence
// header. payload may be nil.
func NewSequencedMessage(v Version, action string, id SequenceID, number int64, last bool, payload *Element) (*Message, error) {
	if last && v.HasLastMessage() && payload == nil {
		action = v.Action(ElementLastMessage)
	}
	msg := NewMessage(action)
	if err := AddSequenceHeader(msg, v, id, number, last); err != nil {
		return nil, err
	}
	msg.Body = payload
	return msg, nil
}

// AddAcknowledgement attaches a SequenceAcknowledgement header for ranges.
// An empty set is written as None in WS-RM 1.1.
func AddAcknowledgement(msg *Message, v Version, id SequenceID, ranges RangeSet, final bool) error {
	content := AcknowledgementHeader{Identifier: id}
	for _, r := range ranges.ranges {
		content.Ranges = append(content.Ranges, AckRange{
			Lower: strconv.FormatInt(r.Lower, 10),
			Upper: strconv.FormatInt(r.Upper, 10),
		})
	}
	if v == WSRM11 {
		if ranges.IsEmpty() {
			content.None = &Marker{}
		}
		if final {
			content.Final = &Marker{}
		}
	}
	h, err := NewHeader(v.Name(ElementSequenceAcknowledgement), false, content)
	if err != nil {
		return err
	}
	msg.AddHeader(h)
	return nil
}

// NewAcknowledgement builds a standalone SequenceAcknowledgement message
func NewAcknowledgement(v Version, id SequenceID, ranges RangeSet, final bool) (*Message, error) {
	msg := NewMessage(v.Action(ElementSequenceAcknowledgement))
	if err := AddAcknowledgement(msg, v, id, ranges, final); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewAckRequested builds a standalone AckRequested message
func NewAckRequested(v Version, id SequenceID) (*Message, error) {
	msg := NewMessage(v.Action(ElementAckRequested))
	h, err := NewHeader(v.Name(ElementAckRequested), false, AckRequestedHeader{Identifier: id})
	if err != nil {
		return nil, err
	}
	msg.AddHeader(h)
	return msg, nil
}
