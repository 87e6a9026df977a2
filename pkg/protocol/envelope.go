package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
)

// Unmarshal parses a SOAP envelope
func Unmarshal(data []byte) (*Message, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one SOAP envelope from r. Structural problems are reported
// as malformed-message errors.
func Decode(r io.Reader) (*Message, error) {
	d := xml.NewDecoder(r)

	start, err := nextStart(d)
	if err != nil {
		return nil, rmerrors.MalformedMessage("Envelope", err)
	}
	if start.Name.Local != "Envelope" || !IsEnvelopeNamespace(start.Name.Space) {
		return nil, rmerrors.MalformedMessage("Envelope",
			fmt.Errorf("unexpected root element {%s}%s", start.Name.Space, start.Name.Local))
	}

	msg := &Message{Envelope: start.Name.Space}
	addNamespaces(msg, start.Attr)

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, rmerrors.MalformedMessage("Envelope", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != msg.Envelope {
				return nil, rmerrors.MalformedMessage("Envelope",
					fmt.Errorf("unexpected element {%s}%s", t.Name.Space, t.Name.Local))
			}
			addNamespaces(msg, t.Attr)
			switch t.Name.Local {
			case "Header":
				if err := decodeHeaders(d, msg); err != nil {
					return nil, err
				}
			case "Body":
				if err := decodeBody(d, msg); err != nil {
					return nil, err
				}
			default:
				if err := d.Skip(); err != nil {
					return nil, rmerrors.MalformedMessage("Envelope", err)
				}
			}
		case xml.EndElement:
			return msg, nil
		}
	}
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func addNamespaces(msg *Message, attrs []xml.Attr) {
	for prefix, ns := range declaredNamespaces(attrs) {
		if msg.Namespaces == nil {
			msg.Namespaces = make(map[string]string)
		}
		msg.Namespaces[prefix] = ns
	}
}

func decodeHeaders(d *xml.Decoder, msg *Message) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return rmerrors.MalformedMessage("Header", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el, err := captureElement(d, t)
			if err != nil {
				return rmerrors.MalformedMessage(t.Name.Local, err)
			}
			if IsAddressingNamespace(el.Name.Space) {
				if handled, err := liftAddressing(msg, el); err != nil {
					return err
				} else if handled {
					continue
				}
			}
			msg.Headers = append(msg.Headers, headerFromElement(el))
		case xml.EndElement:
			return nil
		}
	}
}

func liftAddressing(msg *Message, el *Element) (bool, error) {
	var target *string
	switch el.Name.Local {
	case "Action":
		target = &msg.Action
	case "MessageID":
		target = &msg.MessageID
	case "To":
		target = &msg.To
	case "RelatesTo":
		target = &msg.RelatesTo
	case "ReplyTo":
		var epr EndpointReference
		if err := el.Decode(&epr); err != nil {
			return false, rmerrors.MalformedMessage("ReplyTo", err)
		}
		msg.ReplyTo = epr.Address
		return true, nil
	default:
		return false, nil
	}

	text, err := el.Text()
	if err != nil {
		return false, rmerrors.MalformedMessage(el.Name.Local, err)
	}
	*target = text
	return true, nil
}

func decodeBody(d *xml.Decoder, msg *Message) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return rmerrors.MalformedMessage("Body", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if msg.Body != nil {
				if err := d.Skip(); err != nil {
					return rmerrors.MalformedMessage("Body", err)
				}
				continue
			}
			el, err := captureElement(d, t)
			if err != nil {
				return rmerrors.MalformedMessage(t.Name.Local, err)
			}
			msg.Body = el
		case xml.EndElement:
			return nil
		}
	}
}

// captureElement re-encodes the element opened by start, including all of
// its children, into a standalone Element. Default namespace declarations
// are dropped since the encoder writes an xmlns attribute for every
// qualified element; prefixed declarations are kept so QName values inside
// the element still resolve.
func captureElement(d *xml.Decoder, start xml.StartElement) (*Element, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	el := &Element{Name: start.Name}

	depth := 0
	var tok xml.Token = start
	for {
		switch t := tok.(type) {
		case xml.StartElement:
			// the encoder declares its own prefix for qualified attributes
			used := make(map[string]bool)
			for _, a := range t.Attr {
				if _, isDecl := namespaceDecl(a); !isDecl && a.Name.Space != "" {
					used[a.Name.Space] = true
				}
			}

			attrs := make([]xml.Attr, 0, len(t.Attr))
			for _, a := range t.Attr {
				prefix, isDecl := namespaceDecl(a)
				if !isDecl {
					attrs = append(attrs, a)
					continue
				}
				if el.Namespaces == nil {
					el.Namespaces = make(map[string]string)
				}
				if _, seen := el.Namespaces[prefix]; !seen {
					el.Namespaces[prefix] = a.Value
				}
				if prefix != "" && !used[a.Value] {
					attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: a.Value})
				}
			}
			if depth == 0 {
				el.Attrs = attrsWithoutDecls(attrs)
			}
			t.Attr = attrs
			depth++
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
		case xml.EndElement:
			depth--
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
			if depth == 0 {
				if err := enc.Flush(); err != nil {
					return nil, err
				}
				el.Raw = buf.Bytes()
				return el, nil
			}
		case xml.CharData, xml.Comment:
			if err := enc.EncodeToken(xml.CopyToken(t)); err != nil {
				return nil, err
			}
		}

		var err error
		if tok, err = d.Token(); err != nil {
			return nil, err
		}
	}
}

func attrsWithoutDecls(attrs []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if _, isDecl := namespaceDecl(a); !isDecl {
			out = append(out, a)
		}
	}
	return out
}

// Marshal encodes msg as a SOAP envelope
func Marshal(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes msg to w as a SOAP envelope
func Encode(w io.Writer, msg *Message) error {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	env := msg.EnvelopeNamespace()

	envelope := xml.StartElement{Name: xml.Name{Space: env, Local: "Envelope"}}
	header := xml.StartElement{Name: xml.Name{Space: env, Local: "Header"}}
	body := xml.StartElement{Name: xml.Name{Space: env, Local: "Body"}}

	if err := enc.EncodeToken(envelope); err != nil {
		return err
	}
	if err := enc.EncodeToken(header); err != nil {
		return err
	}

	addressing := []struct {
		local string
		value string
	}{
		{"Action", msg.Action},
		{"MessageID", msg.MessageID},
		{"RelatesTo", msg.RelatesTo},
		{"To", msg.To},
	}
	for _, a := range addressing {
		if a.value == "" {
			continue
		}
		if err := enc.EncodeElement(a.value, xml.StartElement{Name: xml.Name{Space: NamespaceAddressing, Local: a.local}}); err != nil {
			return err
		}
	}
	if msg.ReplyTo != "" {
		if err := enc.EncodeElement(EndpointReference{Address: msg.ReplyTo},
			xml.StartElement{Name: xml.Name{Space: NamespaceAddressing, Local: "ReplyTo"}}); err != nil {
			return err
		}
	}

	for _, h := range msg.Headers {
		if h.Element == nil {
			continue
		}
		if err := enc.Flush(); err != nil {
			return err
		}
		buf.Write(h.Raw)
	}

	if err := enc.EncodeToken(header.End()); err != nil {
		return err
	}
	if err := enc.EncodeToken(body); err != nil {
		return err
	}
	if msg.Body != nil {
		if err := enc.Flush(); err != nil {
			return err
		}
		buf.Write(msg.Body.Raw)
	}
	if err := enc.EncodeToken(body.End()); err != nil {
		return err
	}
	if err := enc.EncodeToken(envelope.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}
