package protocol

import (
	"encoding/xml"
)

// EndpointReference is a WS-Addressing endpoint reference. Address is read
// by local name so both addressing namespaces decode.
type EndpointReference struct {
	Address string `xml:"Address"`
}

// MarshalXML writes the address in the WS-Addressing 1.0 namespace
func (e EndpointReference) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	type epr struct {
		Address string `xml:"http://www.w3.org/2005/08/addressing Address"`
	}
	return enc.EncodeElement(epr{Address: e.Address}, start)
}

// Marker is an empty element whose presence carries meaning
type Marker struct{}

// SequenceHeader is the wsrm:Sequence header. Numbers are kept as text so
// the decoder can report exactly what was wrong with them.
type SequenceHeader struct {
	Identifier    SequenceID `xml:"Identifier"`
	MessageNumber string     `xml:"MessageNumber"`
	LastMessage   *Marker    `xml:"LastMessage"`
}

// AckRange is one AcknowledgementRange element
type AckRange struct {
	Lower string `xml:"Lower,attr"`
	Upper string `xml:"Upper,attr"`
}

// AcknowledgementHeader is the wsrm:SequenceAcknowledgement header
type AcknowledgementHeader struct {
	Identifier SequenceID `xml:"Identifier"`
	Ranges     []AckRange `xml:"AcknowledgementRange"`
	None       *Marker    `xml:"None"`
	Final      *Marker    `xml:"Final"`
	Nacks      []string   `xml:"Nack"`
}

// AckRequestedHeader is the wsrm:AckRequested header
type AckRequestedHeader struct {
	Identifier    SequenceID `xml:"Identifier"`
	MessageNumber string     `xml:"MessageNumber,omitempty"`
}

// SequenceFaultHeader is the wsrm:SequenceFault header
type SequenceFaultHeader struct {
	FaultCode string       `xml:"FaultCode"`
	Detail    *FaultDetail `xml:"Detail"`
}

// FaultDetail carries the identifier a WS-RM fault refers to
type FaultDetail struct {
	Identifier SequenceID `xml:"Identifier,omitempty"`
}

// OfferBody is the Offer element of a CreateSequence
type OfferBody struct {
	Identifier                 SequenceID         `xml:"Identifier"`
	Endpoint                   *EndpointReference `xml:"Endpoint"`
	Expires                    string             `xml:"Expires,omitempty"`
	IncompleteSequenceBehavior string             `xml:"IncompleteSequenceBehavior,omitempty"`
}

// CreateSequenceBody is the CreateSequence request body
type CreateSequenceBody struct {
	AcksTo  EndpointReference `xml:"AcksTo"`
	Expires string            `xml:"Expires,omitempty"`
	Offer   *OfferBody        `xml:"Offer"`
}

// AcceptBody is the Accept element of a CreateSequenceResponse
type AcceptBody struct {
	AcksTo EndpointReference `xml:"AcksTo"`
}

// CreateSequenceResponseBody is the CreateSequenceResponse body
type CreateSequenceResponseBody struct {
	Identifier                 SequenceID  `xml:"Identifier"`
	Expires                    string      `xml:"Expires,omitempty"`
	IncompleteSequenceBehavior string      `xml:"IncompleteSequenceBehavior,omitempty"`
	Accept                     *AcceptBody `xml:"Accept"`
}

// SequenceRequestBody is the body shared by CloseSequence and TerminateSequence
type SequenceRequestBody struct {
	Identifier    SequenceID `xml:"Identifier"`
	LastMsgNumber string     `xml:"LastMsgNumber,omitempty"`
}

// SequenceResponseBody is the body shared by CloseSequenceResponse and TerminateSequenceResponse
type SequenceResponseBody struct {
	Identifier SequenceID `xml:"Identifier"`
}

// soapFault reads both SOAP 1.2 and SOAP 1.1 fault bodies
type soapFault struct {
	Code struct {
		Value   string       `xml:"Value"`
		Subcode *soapSubcode `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text []string `xml:"Text"`
	} `xml:"Reason"`
	Detail *FaultDetail `xml:"Detail"`

	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

type soapSubcode struct {
	Value   string       `xml:"Value"`
	Subcode *soapSubcode `xml:"Subcode"`
}
