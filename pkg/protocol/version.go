package protocol

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Version selects one of the two wire-compatible WS-ReliableMessaging variants
type Version int

const (
	// VersionUnknown is the zero value and is never valid on the wire
	VersionUnknown Version = iota
	// WSRMFeb2005 is the February 2005 submission
	WSRMFeb2005
	// WSRM11 is the OASIS WS-ReliableMessaging 1.1 standard
	WSRM11
)

// Namespaces used on the wire
const (
	NamespaceFeb2005 = "http://schemas.xmlsoap.org/ws/2005/02/rm"
	Namespace11      = "http://docs.oasis-open.org/ws-rx/wsrm/200702"

	// NamespaceNET qualifies the ConnectionLimitReached subcode
	NamespaceNET = "http://schemas.microsoft.com/ws/2006/05/rm"

	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"

	NamespaceAddressing        = "http://www.w3.org/2005/08/addressing"
	NamespaceAddressingAug2004 = "http://schemas.xmlsoap.org/ws/2004/08/addressing"

	// AddressingFaultAction is the WS-Addressing default fault action
	AddressingFaultAction = NamespaceAddressing + "/fault"
	// AnonymousAddress is the WS-Addressing anonymous endpoint
	AnonymousAddress = NamespaceAddressing + "/anonymous"
)

// Element names
const (
	ElementCreateSequence            = "CreateSequence"
	ElementCreateSequenceResponse    = "CreateSequenceResponse"
	ElementCloseSequence             = "CloseSequence"
	ElementCloseSequenceResponse     = "CloseSequenceResponse"
	ElementTerminateSequence         = "TerminateSequence"
	ElementTerminateSequenceResponse = "TerminateSequenceResponse"
	ElementSequence                  = "Sequence"
	ElementSequenceAcknowledgement   = "SequenceAcknowledgement"
	ElementAckRequested              = "AckRequested"
	ElementSequenceFault             = "SequenceFault"
	ElementLastMessage               = "LastMessage"
	ElementUsesSequenceSTR           = "UsesSequenceSTR"
	ElementUsesSequenceSSL           = "UsesSequenceSSL"
	ElementIdentifier                = "Identifier"
)

// Fault subcodes
const (
	FaultSequenceTerminated        = "SequenceTerminated"
	FaultUnknownSequence           = "UnknownSequence"
	FaultInvalidAcknowledgement    = "InvalidAcknowledgement"
	FaultMessageNumberRollover     = "MessageNumberRollover"
	FaultLastMessageNumberExceeded = "LastMessageNumberExceeded"
	FaultCreateSequenceRefused     = "CreateSequenceRefused"
	FaultSequenceClosed            = "SequenceClosed"
	FaultWSRMRequired              = "WSRMRequired"
	FaultConnectionLimitReached    = "ConnectionLimitReached"
	FaultEndpointUnavailable       = "EndpointUnavailable"
)

// MaxSequenceRanges caps the acknowledgement ranges accepted in one header
const MaxSequenceRanges = 128

// String returns the configuration name of the version
func (v Version) String() string {
	switch v {
	case WSRMFeb2005:
		return "wsrm-feb2005"
	case WSRM11:
		return "wsrm11"
	default:
		return "unknown"
	}
}

// ParseVersion maps a configuration name to a Version
func ParseVersion(name string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wsrm-feb2005", "feb2005", "wsreliablemessagingfebruary2005":
		return WSRMFeb2005, nil
	case "wsrm11", "1.1", "wsreliablemessaging11":
		return WSRM11, nil
	default:
		return VersionUnknown, fmt.Errorf("unknown reliable messaging version %q", name)
	}
}

// Valid reports whether v names a supported variant
func (v Version) Valid() bool {
	return v == WSRMFeb2005 || v == WSRM11
}

// Namespace returns the WS-RM namespace for the version
func (v Version) Namespace() string {
	switch v {
	case WSRMFeb2005:
		return NamespaceFeb2005
	case WSRM11:
		return Namespace11
	default:
		return ""
	}
}

// Name qualifies a local element name with the version namespace
func (v Version) Name(local string) xml.Name {
	return xml.Name{Space: v.Namespace(), Local: local}
}

// Action returns the action URI for a WS-RM element name
func (v Version) Action(element string) string {
	return v.Namespace() + "/" + element
}

// FaultAction returns the action carried by WS-RM faults
func (v Version) FaultAction() string {
	if v == WSRM11 {
		return Namespace11 + "/fault"
	}
	return AddressingFaultAction
}

// HasCloseSequence reports whether CloseSequence exists in the version
func (v Version) HasCloseSequence() bool { return v == WSRM11 }

// HasTerminateSequenceResponse reports whether TerminateSequenceResponse exists in the version
func (v Version) HasTerminateSequenceResponse() bool { return v == WSRM11 }

// HasLastMessage reports whether the LastMessage marker exists in the version
func (v Version) HasLastMessage() bool { return v == WSRMFeb2005 }

// IsWSRMAction reports whether action belongs to the version's namespace
func (v Version) IsWSRMAction(action string) bool {
	ns := v.Namespace()
	return ns != "" && strings.HasPrefix(action, ns)
}

// IsAddressingNamespace reports whether ns is a supported WS-Addressing namespace
func IsAddressingNamespace(ns string) bool {
	return ns == NamespaceAddressing || ns == NamespaceAddressingAug2004
}

// IsEnvelopeNamespace reports whether ns is a supported SOAP envelope namespace
func IsEnvelopeNamespace(ns string) bool {
	return ns == NamespaceSOAP12 || ns == NamespaceSOAP11
}
