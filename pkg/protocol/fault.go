package protocol

import (
	"encoding/xml"
	"fmt"
	"strings"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
)

// FaultCode is the top-level SOAP fault code
type FaultCode string

const (
	FaultCodeSender         FaultCode = "Sender"
	FaultCodeReceiver       FaultCode = "Receiver"
	FaultCodeMustUnderstand FaultCode = "MustUnderstand"
)

// Fault describes a fault that can be put on the wire, together with the
// local error it corresponds to.
type Fault struct {
	Code       FaultCode
	Subcode    xml.Name
	SubSubcode xml.Name
	Reason     string
	// SequenceID is the sequence the fault refers to, if any
	SequenceID SequenceID
	// Header names the offending header of a MustUnderstand fault
	Header xml.Name
	// Action overrides the version's fault action when set
	Action string

	// FaultsInput and FaultsOutput tell which side of a duplex pair a
	// received sequence fault concerns.
	FaultsInput  bool
	FaultsOutput bool

	// Err is the local error describing the fault
	Err error
}

func (f *Fault) Error() string {
	if f.Subcode.Local != "" {
		return fmt.Sprintf("%s fault (%s): %s", f.Code, f.Subcode.Local, f.Reason)
	}
	return fmt.Sprintf("%s fault: %s", f.Code, f.Reason)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches another fault with the same code and subcodes
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Code == t.Code && f.Subcode == t.Subcode && f.SubSubcode == t.SubSubcode
}

// IsWSRM reports whether the subcode is one of the version's WS-RM faults
func (f *Fault) IsWSRM(v Version) bool {
	return f.Subcode.Space == v.Namespace() && f.Subcode.Local != ""
}

func sequenceFault(v Version, subcode string, code FaultCode, id SequenceID, reason string, errCode int) *Fault {
	return &Fault{
		Code:         code,
		Subcode:      v.Name(subcode),
		Reason:       reason,
		SequenceID:   id,
		FaultsInput:  true,
		FaultsOutput: true,
		Err:          rmerrors.SequenceFault(errCode, string(id), reason),
	}
}

// UnknownSequenceFault reports a message naming a sequence that is not live
func UnknownSequenceFault(v Version, id SequenceID) *Fault {
	return sequenceFault(v, FaultUnknownSequence, FaultCodeSender, id,
		fmt.Sprintf("The value of wsrm:Identifier is not a known Sequence identifier: %s", id),
		rmerrors.CodeUnknownSequence)
}

// SequenceTerminatedFault reports a sequence terminated by the listener
func SequenceTerminatedFault(v Version, id SequenceID, reason string) *Fault {
	return sequenceFault(v, FaultSequenceTerminated, FaultCodeSender, id, reason, rmerrors.CodeSequenceTerminated)
}

// InvalidAcknowledgementFault reports an acknowledgement covering numbers never sent
func InvalidAcknowledgementFault(v Version, id SequenceID, ranges RangeSet) *Fault {
	f := sequenceFault(v, FaultInvalidAcknowledgement, FaultCodeSender, id,
		fmt.Sprintf("The SequenceAcknowledgement violates the cumulative acknowledgement invariant: %s", ranges),
		rmerrors.CodeInvalidAcknowledgement)
	f.FaultsOutput = false
	return f
}

// MessageNumberRolloverFault reports a message number beyond the maximum
func MessageNumberRolloverFault(v Version, id SequenceID) *Fault {
	f := sequenceFault(v, FaultMessageNumberRollover, FaultCodeSender, id,
		"The maximum value for wsrm:MessageNumber has been exceeded",
		rmerrors.CodeMessageNumberRollover)
	f.FaultsInput = false
	return f
}

// LastMessageNumberExceededFault reports a message numbered after the last message
func LastMessageNumberExceededFault(v Version, id SequenceID) *Fault {
	f := sequenceFault(v, FaultLastMessageNumberExceeded, FaultCodeSender, id,
		"The value for wsrm:MessageNumber exceeds the value of the MessageNumber accompanying a LastMessage element in this Sequence",
		rmerrors.CodeLastMessageNumberExceeded)
	f.FaultsInput = false
	return f
}

// SequenceClosedFault reports a message sent on a closed sequence
func SequenceClosedFault(v Version, id SequenceID) *Fault {
	f := sequenceFault(v, FaultSequenceClosed, FaultCodeSender, id,
		"The Sequence is closed and cannot accept new messages",
		rmerrors.CodeSequenceClosed)
	f.FaultsInput = false
	return f
}

// WSRMRequiredFault reports a message without WS-RM headers sent to a
// listener that requires them
func WSRMRequiredFault(v Version) *Fault {
	reason := "The RM Destination requires the use of WSRM"
	return &Fault{
		Code:    FaultCodeSender,
		Subcode: v.Name(FaultWSRMRequired),
		Reason:  reason,
		Err:     rmerrors.SequenceFault(rmerrors.CodeWSRMRequired, "", reason),
	}
}

// CreateSequenceRefusedFault refuses a CreateSequence the listener will not honor
func CreateSequenceRefusedFault(v Version, reason string) *Fault {
	return &Fault{
		Code:    FaultCodeSender,
		Subcode: v.Name(FaultCreateSequenceRefused),
		Reason:  "The Create Sequence request has been refused by the RM Destination. " + reason,
		Err:     rmerrors.CreateSequenceRefused(reason),
	}
}

// ServerTooBusyFault refuses a CreateSequence because too many sessions
// are waiting to be accepted
func ServerTooBusyFault(v Version, pending, limit int) *Fault {
	return &Fault{
		Code:       FaultCodeReceiver,
		Subcode:    v.Name(FaultCreateSequenceRefused),
		SubSubcode: xml.Name{Space: NamespaceNET, Local: FaultConnectionLimitReached},
		Reason: fmt.Sprintf("The Create Sequence request has been refused by the RM Destination. "+
			"The endpoint has %d sessions pending and cannot accept more than %d.", pending, limit),
		Err: rmerrors.ServerTooBusy(pending, limit),
	}
}

// EndpointUnavailableFault refuses a CreateSequence sent to a listener that
// does not accept new sequences at that address
func EndpointUnavailableFault(endpoint string) *Fault {
	return &Fault{
		Code:    FaultCodeSender,
		Subcode: xml.Name{Space: NamespaceAddressing, Local: FaultEndpointUnavailable},
		Reason:  fmt.Sprintf("There was no channel actively listening at '%s'", endpoint),
		Action:  AddressingFaultAction,
		Err:     rmerrors.EndpointNotFound(endpoint),
	}
}

// MustUnderstandFault reports a header addressed to this node that nothing understood
func MustUnderstandFault(header xml.Name) *Fault {
	return &Fault{
		Code:   FaultCodeMustUnderstand,
		Reason: fmt.Sprintf("The header '%s' from the namespace '%s' was not understood by the recipient", header.Local, header.Space),
		Header: header,
		Action: AddressingFaultAction,
		Err:    rmerrors.MustUnderstand(header.Local),
	}
}

// TooManyHeadersFault reports a WS-RM header that occurs more than once
func TooManyHeadersFault(v Version, header string) *Fault {
	name := v.Name(header)
	return &Fault{
		Code:   FaultCodeMustUnderstand,
		Reason: fmt.Sprintf("The message contains more than one '%s' header", header),
		Header: name,
		Err:    rmerrors.TooManyHeaders(header),
	}
}

// MalformedFault reports WS-RM content that could not be read
func MalformedFault(v Version, id SequenceID, element string, cause error) *Fault {
	err := rmerrors.MalformedMessage(element, cause)
	if id != "" {
		f := SequenceTerminatedFault(v, id, err.Error())
		f.Err = err
		return f
	}
	return &Fault{
		Code:   FaultCodeSender,
		Reason: err.Error(),
		Err:    err,
	}
}

// faultOut is the SOAP 1.2 fault body
type faultOut struct {
	Code   codeOut    `xml:"Code"`
	Reason reasonOut  `xml:"Reason"`
	Detail *detailOut `xml:"Detail,omitempty"`
}

type codeOut struct {
	Value   string   `xml:"Value"`
	Subcode *codeOut `xml:"Subcode,omitempty"`
}

type reasonOut struct {
	Text struct {
		Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
		Value string `xml:",chardata"`
	} `xml:"Text"`
}

type detailOut struct {
	Identifier textOut
}

type textOut struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// prefixes used for QName values in fault messages
const (
	prefixEnv        = "env"
	prefixSubcode    = "sc"
	prefixSubSubcode = "ssc"
)

func nsAttr(prefix, ns string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: ns}
}

// Message builds the SOAP 1.2 fault message for the version. A WS-RM
// fault about a sequence also carries a SequenceFault header.
func (f *Fault) Message(v Version, relatesTo string) (*Message, error) {
	action := f.Action
	if action == "" {
		action = v.FaultAction()
	}
	msg := NewMessage(action)
	msg.RelatesTo = relatesTo

	attrs := []xml.Attr{nsAttr(prefixEnv, NamespaceSOAP12)}
	body := faultOut{Code: codeOut{Value: prefixEnv + ":" + string(f.Code)}}
	if f.Subcode.Local != "" {
		attrs = append(attrs, nsAttr(prefixSubcode, f.Subcode.Space))
		sub := &codeOut{Value: prefixSubcode + ":" + f.Subcode.Local}
		if f.SubSubcode.Local != "" {
			attrs = append(attrs, nsAttr(prefixSubSubcode, f.SubSubcode.Space))
			sub.Subcode = &codeOut{Value: prefixSubSubcode + ":" + f.SubSubcode.Local}
		}
		body.Code.Subcode = sub
	}
	body.Reason.Text.Lang = "en"
	body.Reason.Text.Value = f.Reason
	if f.SequenceID != "" {
		body.Detail = &detailOut{Identifier: textOut{XMLName: v.Name(ElementIdentifier), Value: string(f.SequenceID)}}
	}

	el, err := NewElement(xml.Name{Space: NamespaceSOAP12, Local: "Fault"}, attrs, body)
	if err != nil {
		return nil, err
	}
	msg.Body = el

	if f.IsWSRM(v) && f.SequenceID != "" {
		header := SequenceFaultHeader{
			FaultCode: prefixSubcode + ":" + f.Subcode.Local,
			Detail:    &FaultDetail{Identifier: f.SequenceID},
		}
		el, err := NewElement(v.Name(ElementSequenceFault), []xml.Attr{nsAttr(prefixSubcode, f.Subcode.Space)}, header)
		if err != nil {
			return nil, err
		}
		msg.AddHeader(Header{Element: el})
	}

	if f.Code == FaultCodeMustUnderstand && f.Header.Local != "" {
		el, err := NewElement(xml.Name{Space: NamespaceSOAP12, Local: "NotUnderstood"},
			[]xml.Attr{
				nsAttr("h", f.Header.Space),
				{Name: xml.Name{Local: "qname"}, Value: "h:" + f.Header.Local},
			}, nil)
		if err != nil {
			return nil, err
		}
		msg.AddHeader(Header{Element: el})
	}

	return msg, nil
}

// ReadFault extracts the fault description carried by a fault message.
// Subcodes come from the SOAP fault body or, failing that, from a
// SequenceFault header in ns.
func ReadFault(msg *Message, ns string) (*Fault, error) {
	if !msg.IsFault() {
		return nil, fmt.Errorf("message is not a fault")
	}

	var body soapFault
	if err := msg.Body.Decode(&body); err != nil {
		return nil, err
	}

	f := &Fault{}
	if msg.Body.Name.Space == NamespaceSOAP11 {
		code := msg.Body.ResolveQName(body.FaultCode, msg.Namespaces)
		switch {
		case code.Space == NamespaceSOAP11 || (code.Space == "" && isSOAPCode(code.Local)):
			f.Code = soap11Code(code.Local)
		default:
			f.Code = FaultCodeSender
			f.Subcode = code
		}
		f.Reason = strings.TrimSpace(body.FaultString)
	} else {
		if body.Code.Value == "" {
			return nil, fmt.Errorf("fault has no code")
		}
		f.Code = FaultCode(msg.Body.ResolveQName(body.Code.Value, msg.Namespaces).Local)
		if sub := body.Code.Subcode; sub != nil {
			f.Subcode = msg.Body.ResolveQName(sub.Value, msg.Namespaces)
			if sub.Subcode != nil {
				f.SubSubcode = msg.Body.ResolveQName(sub.Subcode.Value, msg.Namespaces)
			}
		}
		if len(body.Reason.Text) > 0 {
			f.Reason = strings.TrimSpace(body.Reason.Text[0])
		}
	}
	if body.Detail != nil {
		f.SequenceID = SequenceID(strings.TrimSpace(string(body.Detail.Identifier)))
	}

	if headers := msg.FindHeaders(ns, ElementSequenceFault); len(headers) > 0 {
		h := headers[0]
		var sf SequenceFaultHeader
		if err := h.Decode(&sf); err != nil {
			return nil, err
		}
		if f.Subcode.Space != ns {
			f.Subcode = h.ResolveQName(sf.FaultCode, msg.Namespaces)
		}
		if f.SequenceID == "" && sf.Detail != nil {
			f.SequenceID = SequenceID(strings.TrimSpace(string(sf.Detail.Identifier)))
		}
	}

	return f, nil
}

func isSOAPCode(local string) bool {
	switch local {
	case "Client", "Server", "MustUnderstand", "VersionMismatch":
		return true
	}
	return false
}

func soap11Code(local string) FaultCode {
	switch local {
	case "Server":
		return FaultCodeReceiver
	case "MustUnderstand":
		return FaultCodeMustUnderstand
	default:
		return FaultCodeSender
	}
}
