package protocol

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
)

const prefixedSequenceEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:a="http://www.w3.org/2005/08/addressing"
            xmlns:r="http://docs.oasis-open.org/ws-rx/wsrm/200702">
  <s:Header>
    <a:Action s:mustUnderstand="1">urn:example:echo</a:Action>
    <a:MessageID>urn:uuid:9b2c</a:MessageID>
    <a:ReplyTo><a:Address>http://client/reply</a:Address></a:ReplyTo>
    <r:Sequence s:mustUnderstand="1">
      <r:Identifier>urn:uuid:seq-1</r:Identifier>
      <r:MessageNumber>1</r:MessageNumber>
    </r:Sequence>
    <x:Trace xmlns:x="urn:example:trace" s:role="http://www.w3.org/2003/05/soap-envelope/role/none">abc</x:Trace>
  </s:Header>
  <s:Body><e:Echo xmlns:e="urn:example">hello</e:Echo></s:Body>
</s:Envelope>`

func TestDecodePrefixedEnvelope(t *testing.T) {
	msg, err := Unmarshal([]byte(prefixedSequenceEnvelope))
	require.NoError(t, err)

	assert.Equal(t, NamespaceSOAP12, msg.Envelope)
	assert.Equal(t, "urn:example:echo", msg.Action)
	assert.Equal(t, "urn:uuid:9b2c", msg.MessageID)
	assert.Equal(t, "http://client/reply", msg.ReplyTo)
	require.Len(t, msg.Headers, 2, "addressing headers are lifted out")

	seq := msg.FindHeaders(Namespace11, ElementSequence)
	require.Len(t, seq, 1)
	assert.True(t, seq[0].MustUnderstand)
	assert.True(t, seq[0].TargetsUltimateReceiver())

	var header SequenceHeader
	require.NoError(t, seq[0].Decode(&header))
	assert.Equal(t, SequenceID("urn:uuid:seq-1"), header.Identifier)
	assert.Equal(t, "1", strings.TrimSpace(header.MessageNumber))
	assert.Nil(t, header.LastMessage)

	trace := msg.FindHeaders("urn:example:trace", "Trace")
	require.Len(t, trace, 1)
	assert.False(t, trace[0].TargetsUltimateReceiver())

	require.NotNil(t, msg.Body)
	assert.True(t, msg.Body.Is("urn:example", "Echo"))
	text, err := msg.Body.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.False(t, msg.IsFault())
}

func TestCreateSequenceRoundTrip(t *testing.T) {
	for _, v := range []Version{WSRMFeb2005, WSRM11} {
		t.Run(v.String(), func(t *testing.T) {
			offer := &Offer{Identifier: "urn:uuid:offer-x", Expires: "PT1H"}
			out, err := NewCreateSequence(v, "http://host/rm", "http://client/acks", offer)
			require.NoError(t, err)

			data, err := Marshal(out)
			require.NoError(t, err)

			in, err := Unmarshal(data)
			require.NoError(t, err)

			assert.Equal(t, v.Action(ElementCreateSequence), in.Action)
			assert.Equal(t, out.MessageID, in.MessageID)
			assert.Equal(t, "http://host/rm", in.To)
			assert.Equal(t, "http://client/acks", in.ReplyTo)
			require.True(t, in.Body.Is(v.Namespace(), ElementCreateSequence))

			var body CreateSequenceBody
			require.NoError(t, in.Body.Decode(&body))
			assert.Equal(t, "http://client/acks", body.AcksTo.Address)
			require.NotNil(t, body.Offer)
			assert.Equal(t, SequenceID("urn:uuid:offer-x"), body.Offer.Identifier)
			assert.Equal(t, "PT1H", body.Offer.Expires)
			if v == WSRM11 {
				require.NotNil(t, body.Offer.Endpoint)
				assert.Equal(t, "http://client/acks", body.Offer.Endpoint.Address)
			} else {
				assert.Nil(t, body.Offer.Endpoint)
			}
		})
	}
}

func TestSequencedMessageRoundTrip(t *testing.T) {
	payload, err := NewElement(xml.Name{Space: "urn:example", Local: "Ping"}, nil, struct {
		Text string `xml:",chardata"`
	}{"data"})
	require.NoError(t, err)

	out, err := NewSequencedMessage(WSRMFeb2005, "urn:example:ping", "urn:uuid:y", 3, true, payload)
	require.NoError(t, err)
	require.NoError(t, AddAcknowledgement(out, WSRMFeb2005, "urn:uuid:x", NewRangeSet(Range{1, 2}, Range{4, 4}), false))

	data, err := Marshal(out)
	require.NoError(t, err)
	in, err := Unmarshal(data)
	require.NoError(t, err)

	seq := in.FindHeaders(NamespaceFeb2005, ElementSequence)
	require.Len(t, seq, 1)
	assert.True(t, seq[0].MustUnderstand)

	var header SequenceHeader
	require.NoError(t, seq[0].Decode(&header))
	assert.Equal(t, SequenceID("urn:uuid:y"), header.Identifier)
	assert.Equal(t, "3", header.MessageNumber)
	assert.NotNil(t, header.LastMessage)

	acks := in.FindHeaders(NamespaceFeb2005, ElementSequenceAcknowledgement)
	require.Len(t, acks, 1)
	var ack AcknowledgementHeader
	require.NoError(t, acks[0].Decode(&ack))
	assert.Equal(t, []AckRange{{Lower: "1", Upper: "2"}, {Lower: "4", Upper: "4"}}, ack.Ranges)
	assert.Nil(t, ack.None)

	require.NotNil(t, in.Body)
	assert.True(t, in.Body.Is("urn:example", "Ping"))
}

func TestEmptyAcknowledgementWritesNone(t *testing.T) {
	msg, err := NewAcknowledgement(WSRM11, "urn:uuid:x", RangeSet{}, true)
	require.NoError(t, err)

	data, err := Marshal(msg)
	require.NoError(t, err)
	in, err := Unmarshal(data)
	require.NoError(t, err)

	var ack AcknowledgementHeader
	require.NoError(t, in.FindHeaders(Namespace11, ElementSequenceAcknowledgement)[0].Decode(&ack))
	assert.NotNil(t, ack.None)
	assert.NotNil(t, ack.Final)
	assert.Empty(t, ack.Ranges)
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not an envelope", `<foo/>`},
		{"truncated", `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header>`},
		{"foreign child", `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><x:Other xmlns:x="urn:x"/></s:Envelope>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, rmerrors.IsCode(err, rmerrors.CodeMalformedMessage))
			assert.True(t, rmerrors.IsRecoverable(err))
		})
	}
}

func TestSOAP11EnvelopeIsAccepted(t *testing.T) {
	data := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Header><Action xmlns="http://schemas.xmlsoap.org/ws/2004/08/addressing">urn:a</Action></s:Header>
  <s:Body/>
</s:Envelope>`

	msg, err := Unmarshal([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, NamespaceSOAP11, msg.Envelope)
	assert.Equal(t, "urn:a", msg.Action)
	assert.Nil(t, msg.Body)
}
