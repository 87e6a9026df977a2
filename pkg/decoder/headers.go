package decoder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// parseNumber reads a message number. Zero is only accepted when allowZero is set.
func parseNumber(s string, allowZero bool) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing number")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 || (n == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid sequence number %d", n)
	}
	return n, nil
}

// isRollover reports whether s is a positive number too large for int64
func isRollover(s string, err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) &&
		!strings.HasPrefix(strings.TrimSpace(s), "-")
}

func (d *decoding) readSequence(h protocol.Header) error {
	var hdr protocol.SequenceHeader
	if err := h.Decode(&hdr); err != nil {
		return protocol.MalformedFault(d.v, "", protocol.ElementSequence, err)
	}
	id := trimID(hdr.Identifier)
	if id.IsZero() {
		return protocol.MalformedFault(d.v, "", protocol.ElementSequence, errMissingIdentifier)
	}

	number, err := parseNumber(hdr.MessageNumber, false)
	if err != nil {
		if isRollover(hdr.MessageNumber, err) {
			return protocol.MessageNumberRolloverFault(d.v, id)
		}
		return protocol.MalformedFault(d.v, id, "MessageNumber", err)
	}

	last := hdr.LastMessage != nil
	if last && !d.v.HasLastMessage() {
		return protocol.MalformedFault(d.v, id, protocol.ElementLastMessage,
			fmt.Errorf("LastMessage is not defined by %s", d.v))
	}

	d.info.Sequence = &SequencedMessageInfo{SequenceID: id, MessageNumber: number, LastMessage: last}
	return nil
}

// validateRange applies the bound rules of an AcknowledgementRange. The
// February 2005 version forbids a zero lower bound, 1.1 a zero upper bound.
func validateRange(v protocol.Version, lower, upper int64) error {
	switch {
	case lower < 0:
		return fmt.Errorf("lower bound %d is negative", lower)
	case lower > upper:
		return fmt.Errorf("lower bound %d exceeds upper bound %d", lower, upper)
	case v == protocol.WSRMFeb2005 && lower == 0:
		return errors.New("lower bound must not be zero")
	case v == protocol.WSRM11 && upper == 0:
		return errors.New("upper bound must not be zero")
	}
	return nil
}

func parseBound(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing range bound")
	}
	return strconv.ParseInt(s, 10, 64)
}

func (d *decoding) readAcknowledgement(h protocol.Header) error {
	const element = protocol.ElementSequenceAcknowledgement

	var hdr protocol.AcknowledgementHeader
	if err := h.Decode(&hdr); err != nil {
		return protocol.MalformedFault(d.v, "", element, err)
	}
	id := trimID(hdr.Identifier)
	if id.IsZero() {
		return protocol.MalformedFault(d.v, "", element, errMissingIdentifier)
	}

	ack := &AcknowledgementInfo{SequenceID: id, None: hdr.None != nil, Final: hdr.Final != nil}
	if (ack.None || ack.Final) && d.v != protocol.WSRM11 {
		return protocol.MalformedFault(d.v, id, element, fmt.Errorf("None and Final are not defined by %s", d.v))
	}
	if len(hdr.Ranges) > protocol.MaxSequenceRanges {
		return protocol.MalformedFault(d.v, id, element,
			fmt.Errorf("%d acknowledgement ranges exceed the limit of %d", len(hdr.Ranges), protocol.MaxSequenceRanges))
	}

	var ranges protocol.RangeSet
	for _, r := range hdr.Ranges {
		lower, err := parseBound(r.Lower)
		if err != nil {
			return protocol.MalformedFault(d.v, id, "AcknowledgementRange", err)
		}
		upper, err := parseBound(r.Upper)
		if err != nil {
			return protocol.MalformedFault(d.v, id, "AcknowledgementRange", err)
		}
		if err := validateRange(d.v, lower, upper); err != nil {
			return protocol.MalformedFault(d.v, id, "AcknowledgementRange", err)
		}
		ranges = ranges.MergeWith(protocol.NewRange(lower, upper))
	}
	ack.Ranges = ranges

	for _, s := range hdr.Nacks {
		n, err := parseNumber(s, false)
		if err != nil {
			return protocol.MalformedFault(d.v, id, "Nack", err)
		}
		ack.Nacks = append(ack.Nacks, n)
	}

	choices := 0
	for _, present := range []bool{len(hdr.Ranges) > 0, ack.None, len(ack.Nacks) > 0} {
		if present {
			choices++
		}
	}
	switch {
	case choices == 0:
		return protocol.MalformedFault(d.v, id, element, errors.New("no AcknowledgementRange, None or Nack"))
	case choices > 1:
		return protocol.MalformedFault(d.v, id, element, errors.New("AcknowledgementRange, None and Nack are exclusive"))
	case ack.Final && len(ack.Nacks) > 0:
		return protocol.MalformedFault(d.v, id, element, errors.New("Final cannot accompany Nack"))
	}

	d.info.Acknowledgement = ack
	return nil
}

func (d *decoding) readAckRequested(h protocol.Header) error {
	var hdr protocol.AckRequestedHeader
	if err := h.Decode(&hdr); err != nil {
		return protocol.MalformedFault(d.v, "", protocol.ElementAckRequested, err)
	}
	id := trimID(hdr.Identifier)
	if id.IsZero() {
		return protocol.MalformedFault(d.v, "", protocol.ElementAckRequested, errMissingIdentifier)
	}

	info := &AckRequestedInfo{SequenceID: id}
	if d.v == protocol.WSRMFeb2005 && strings.TrimSpace(hdr.MessageNumber) != "" {
		n, err := parseNumber(hdr.MessageNumber, false)
		if err != nil {
			return protocol.MalformedFault(d.v, id, "MessageNumber", err)
		}
		info.MessageNumber = n
	}
	d.info.AckRequested = info
	return nil
}

func (d *decoding) readSequenceFault(h protocol.Header) error {
	var hdr protocol.SequenceFaultHeader
	if err := h.Decode(&hdr); err != nil {
		return protocol.MalformedFault(d.v, "", protocol.ElementSequenceFault, err)
	}
	f := &protocol.Fault{
		Code:    protocol.FaultCodeSender,
		Subcode: h.ResolveQName(hdr.FaultCode, d.msg.Namespaces),
	}
	if hdr.Detail != nil {
		f.SequenceID = trimID(hdr.Detail.Identifier)
	}
	if f.Subcode.Local == "" {
		return protocol.MalformedFault(d.v, f.SequenceID, "FaultCode", errors.New("missing fault code"))
	}
	d.info.Fault = classify(d.v, f, d.ctx.Converter)
	return nil
}

// body checks that the body element matches the action
func (d *decoding) body(element string) (*protocol.Element, error) {
	body := d.msg.Body
	if !body.Is(d.ns, element) {
		got := "no body"
		if body != nil {
			got = fmt.Sprintf("{%s}%s", body.Name.Space, body.Name.Local)
		}
		return nil, protocol.MalformedFault(d.v, "", element, fmt.Errorf("expected body %s, got %s", element, got))
	}
	return body, nil
}

func (d *decoding) readCreateSequence() error {
	const element = protocol.ElementCreateSequence

	body, err := d.body(element)
	if err != nil {
		return err
	}
	var cs protocol.CreateSequenceBody
	if err := body.Decode(&cs); err != nil {
		return protocol.MalformedFault(d.v, "", element, err)
	}
	if d.msg.MessageID == "" {
		return protocol.MalformedFault(d.v, "", "MessageID", errors.New("CreateSequence requires a MessageID"))
	}

	info := &CreateSequenceInfo{
		MessageID: d.msg.MessageID,
		To:        d.msg.To,
		ReplyTo:   d.msg.ReplyTo,
		AcksTo:    strings.TrimSpace(cs.AcksTo.Address),
		Expires:   strings.TrimSpace(cs.Expires),
	}
	if info.AcksTo == "" {
		return protocol.MalformedFault(d.v, "", "AcksTo", errMissingAddress)
	}

	if offer := cs.Offer; offer != nil {
		info.OfferID = trimID(offer.Identifier)
		if info.OfferID.IsZero() {
			return protocol.MalformedFault(d.v, "", "Offer", errMissingIdentifier)
		}
		info.OfferExpires = strings.TrimSpace(offer.Expires)
		if d.v == protocol.WSRM11 {
			if offer.Endpoint == nil || strings.TrimSpace(offer.Endpoint.Address) == "" {
				return protocol.MalformedFault(d.v, "", "Offer", errors.New("missing Endpoint"))
			}
			info.OfferEndpoint = strings.TrimSpace(offer.Endpoint.Address)
			info.IncompleteSequenceBehavior = strings.TrimSpace(offer.IncompleteSequenceBehavior)
		}
	}

	d.info.CreateSequence = info
	return nil
}

func (d *decoding) readCreateSequenceResponse() error {
	const element = protocol.ElementCreateSequenceResponse

	body, err := d.body(element)
	if err != nil {
		return err
	}
	var csr protocol.CreateSequenceResponseBody
	if err := body.Decode(&csr); err != nil {
		return protocol.MalformedFault(d.v, "", element, err)
	}
	id := trimID(csr.Identifier)
	if id.IsZero() {
		return protocol.MalformedFault(d.v, "", element, errMissingIdentifier)
	}

	info := &CreateSequenceResponseInfo{
		RelatesTo:                  d.msg.RelatesTo,
		Identifier:                 id,
		Expires:                    strings.TrimSpace(csr.Expires),
		IncompleteSequenceBehavior: strings.TrimSpace(csr.IncompleteSequenceBehavior),
	}
	if csr.Accept != nil {
		info.AcceptAcksTo = strings.TrimSpace(csr.Accept.AcksTo.Address)
		if info.AcceptAcksTo == "" {
			return protocol.MalformedFault(d.v, id, "Accept", errMissingAddress)
		}
	}
	d.info.CreateSequenceResponse = info
	return nil
}

// readRequest reads a CloseSequence or TerminateSequence body
func (d *decoding) readRequest(element string) (*RequestInfo, error) {
	body, err := d.body(element)
	if err != nil {
		return nil, err
	}
	var req protocol.SequenceRequestBody
	if err := body.Decode(&req); err != nil {
		return nil, protocol.MalformedFault(d.v, "", element, err)
	}
	id := trimID(req.Identifier)
	if id.IsZero() {
		return nil, protocol.MalformedFault(d.v, "", element, errMissingIdentifier)
	}

	info := &RequestInfo{MessageID: d.msg.MessageID, ReplyTo: d.msg.ReplyTo, Identifier: id}
	if d.v == protocol.WSRM11 && strings.TrimSpace(req.LastMsgNumber) != "" {
		n, err := parseNumber(req.LastMsgNumber, false)
		if err != nil {
			return nil, protocol.MalformedFault(d.v, id, "LastMsgNumber", err)
		}
		info.LastMsgNumber = n
	}
	return info, nil
}

// readResponse reads a CloseSequenceResponse or TerminateSequenceResponse body
func (d *decoding) readResponse(element string) (*ResponseInfo, error) {
	body, err := d.body(element)
	if err != nil {
		return nil, err
	}
	var resp protocol.SequenceResponseBody
	if err := body.Decode(&resp); err != nil {
		return nil, protocol.MalformedFault(d.v, "", element, err)
	}
	id := trimID(resp.Identifier)
	if id.IsZero() {
		return nil, protocol.MalformedFault(d.v, "", element, errMissingIdentifier)
	}
	return &ResponseInfo{RelatesTo: d.msg.RelatesTo, Identifier: id}, nil
}
