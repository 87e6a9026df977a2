package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SequenceID identifies one reliable sequence from creation to termination
type SequenceID string

// NewSequenceID allocates a fresh globally unique sequence identifier
func NewSequenceID() SequenceID {
	return SequenceID("urn:uuid:" + uuid.New().String())
}

// String returns the identifier as it appears on the wire
func (id SequenceID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is empty
func (id SequenceID) IsZero() bool {
	return id == ""
}

// Element is one self-contained XML element. Raw holds the element
// re-encoded so that it can be decoded on its own; namespace prefixes
// declared anywhere on or inside it are kept in Namespaces.
type Element struct {
	Name       xml.Name
	Attrs      []xml.Attr
	Raw        []byte
	Namespaces map[string]string
}

// NewElement encodes content under the given element name. A nil content
// produces an empty element.
func NewElement(name xml.Name, attrs []xml.Attr, content interface{}) (*Element, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start := xml.StartElement{Name: name, Attr: attrs}

	var err error
	if content == nil {
		if err = enc.EncodeToken(start); err == nil {
			err = enc.EncodeToken(start.End())
		}
	} else {
		err = enc.EncodeElement(content, start)
	}
	if err == nil {
		err = enc.Flush()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name.Local, err)
	}

	return &Element{Name: name, Attrs: attrs, Raw: buf.Bytes(), Namespaces: declaredNamespaces(attrs)}, nil
}

// Decode unmarshals the element into v
func (e *Element) Decode(v interface{}) error {
	if e == nil {
		return fmt.Errorf("no element to decode")
	}
	return xml.Unmarshal(e.Raw, v)
}

// Text returns the character data directly inside the element
func (e *Element) Text() (string, error) {
	var v struct {
		Text string `xml:",chardata"`
	}
	if err := e.Decode(&v); err != nil {
		return "", err
	}
	return strings.TrimSpace(v.Text), nil
}

// Attr returns the value of the named attribute, or "" if absent
func (e *Element) Attr(space, local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value
		}
	}
	return ""
}

// Is reports whether the element has the given qualified name
func (e *Element) Is(space, local string) bool {
	return e != nil && e.Name.Space == space && e.Name.Local == local
}

// ResolveQName resolves a prefixed value such as "wsrm:UnknownSequence"
// against the prefixes declared in the element, then in fallback. An
// unresolvable prefix yields an empty Space.
func (e *Element) ResolveQName(value string, fallback map[string]string) xml.Name {
	value = strings.TrimSpace(value)
	prefix, local, found := strings.Cut(value, ":")
	if !found {
		local, prefix = value, ""
	}
	if ns, ok := e.Namespaces[prefix]; ok {
		return xml.Name{Space: ns, Local: local}
	}
	if ns, ok := fallback[prefix]; ok {
		return xml.Name{Space: ns, Local: local}
	}
	return xml.Name{Local: local}
}

// Header is one SOAP header block
type Header struct {
	*Element
	MustUnderstand bool
	// Role is the SOAP 1.2 role or SOAP 1.1 actor; empty means the ultimate receiver
	Role string
}

// Roles that target the ultimate receiver
const (
	RoleNext             = NamespaceSOAP12 + "/role/next"
	RoleUltimateReceiver = NamespaceSOAP12 + "/role/ultimateReceiver"
	RoleNone             = NamespaceSOAP12 + "/role/none"
	ActorNext            = "http://schemas.xmlsoap.org/soap/actor/next"
)

// TargetsUltimateReceiver reports whether the header is addressed to this node
func (h Header) TargetsUltimateReceiver() bool {
	switch h.Role {
	case "", RoleNext, RoleUltimateReceiver, ActorNext:
		return true
	default:
		return false
	}
}

// NewHeader builds a header block from content
func NewHeader(name xml.Name, mustUnderstand bool, content interface{}) (Header, error) {
	var attrs []xml.Attr
	if mustUnderstand {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: NamespaceSOAP12, Local: "mustUnderstand"}, Value: "true"})
	}
	el, err := NewElement(name, attrs, content)
	if err != nil {
		return Header{}, err
	}
	return Header{Element: el, MustUnderstand: mustUnderstand}, nil
}

func headerFromElement(el *Element) Header {
	h := Header{Element: el}
	for _, a := range el.Attrs {
		if !IsEnvelopeNamespace(a.Name.Space) {
			continue
		}
		switch a.Name.Local {
		case "mustUnderstand":
			h.MustUnderstand = a.Value == "true" || a.Value == "1"
		case "role", "actor":
			h.Role = a.Value
		}
	}
	return h
}

// Message is one SOAP message with its WS-Addressing properties lifted out
// of the header list.
type Message struct {
	// Envelope is the SOAP envelope namespace; empty means SOAP 1.2
	Envelope  string
	Action    string
	MessageID string
	RelatesTo string
	To        string
	ReplyTo   string
	Headers   []Header
	Body      *Element
	// Namespaces declared on the envelope, header and body elements
	Namespaces map[string]string
}

// NewMessage creates a SOAP 1.2 message with a fresh message ID
func NewMessage(action string) *Message {
	return &Message{
		Envelope:  NamespaceSOAP12,
		Action:    action,
		MessageID: "urn:uuid:" + uuid.New().String(),
	}
}

// AddHeader appends a header block
func (m *Message) AddHeader(h Header) {
	m.Headers = append(m.Headers, h)
}

// FindHeaders returns every header with the given qualified name
func (m *Message) FindHeaders(space, local string) []Header {
	var out []Header
	for _, h := range m.Headers {
		if h.Element != nil && h.Is(space, local) {
			out = append(out, h)
		}
	}
	return out
}

// IsFault reports whether the body is a SOAP fault
func (m *Message) IsFault() bool {
	if m == nil || m.Body == nil {
		return false
	}
	return m.Body.Name.Local == "Fault" && IsEnvelopeNamespace(m.Body.Name.Space)
}

// EnvelopeNamespace returns the SOAP namespace the message is written in
func (m *Message) EnvelopeNamespace() string {
	if m.Envelope == "" {
		return NamespaceSOAP12
	}
	return m.Envelope
}

func declaredNamespaces(attrs []xml.Attr) map[string]string {
	var ns map[string]string
	for _, a := range attrs {
		prefix, ok := namespaceDecl(a)
		if !ok {
			continue
		}
		if ns == nil {
			ns = make(map[string]string)
		}
		ns[prefix] = a.Value
	}
	return ns
}

// namespaceDecl reports whether a declares a namespace, and the prefix it
// binds. Attributes written with the "xmlns:p" local-name form count too.
func namespaceDecl(a xml.Attr) (string, bool) {
	switch {
	case a.Name.Space == "xmlns":
		return a.Name.Local, true
	case a.Name.Space == "" && a.Name.Local == "xmlns":
		return "", true
	case a.Name.Space == "" && strings.HasPrefix(a.Name.Local, "xmlns:"):
		return strings.TrimPrefix(a.Name.Local, "xmlns:"), true
	default:
		return "", false
	}
}
