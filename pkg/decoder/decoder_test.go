package decoder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

var versions = []protocol.Version{protocol.WSRMFeb2005, protocol.WSRM11}

func roundTrip(t *testing.T, msg *protocol.Message) *protocol.Message {
	t.Helper()
	data, err := protocol.Marshal(msg)
	require.NoError(t, err)
	out, err := protocol.Unmarshal(data)
	require.NoError(t, err)
	return out
}

func rawMessage(t *testing.T, v protocol.Version, action, headers, body string) *protocol.Message {
	t.Helper()
	data := fmt.Sprintf(`<s:Envelope xmlns:s="%s" xmlns:a="%s" xmlns:r="%s">`+
		`<s:Header><a:Action>%s</a:Action><a:MessageID>urn:uuid:m1</a:MessageID>%s</s:Header>`+
		`<s:Body>%s</s:Body></s:Envelope>`,
		protocol.NamespaceSOAP12, protocol.NamespaceAddressing, v.Namespace(), action, headers, body)
	msg, err := protocol.Unmarshal([]byte(data))
	require.NoError(t, err)
	return msg
}

func sequenceHeader(id, number string) string {
	return fmt.Sprintf(`<r:Sequence s:mustUnderstand="true"><r:Identifier>%s</r:Identifier><r:MessageNumber>%s</r:MessageNumber></r:Sequence>`, id, number)
}

func ackHeader(id, content string) string {
	return fmt.Sprintf(`<r:SequenceAcknowledgement><r:Identifier>%s</r:Identifier>%s</r:SequenceAcknowledgement>`, id, content)
}

func ackRange(lower, upper int64) string {
	return fmt.Sprintf(`<r:AcknowledgementRange Lower="%d" Upper="%d"/>`, lower, upper)
}

const soapFaultBody = `<s:Fault><s:Code><s:Value>s:Sender</s:Value></s:Code>` +
	`<s:Reason><s:Text xml:lang="en">broken</s:Text></s:Reason></s:Fault>`

func TestDecodeCreateSequence(t *testing.T) {
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			out, err := protocol.NewCreateSequence(v, "http://host/rm", "http://client/acks",
				&protocol.Offer{Identifier: "urn:uuid:offer-x"})
			require.NoError(t, err)

			info := Decode(v, SessionContext{}, roundTrip(t, out))

			require.Nil(t, info.FaultReply())
			require.NoError(t, info.ParseErr)
			require.NotNil(t, info.CreateSequence)
			assert.Equal(t, OpCreateSequence, info.Operation())

			cs := info.CreateSequence
			assert.Equal(t, out.MessageID, cs.MessageID)
			assert.Equal(t, "http://host/rm", cs.To)
			assert.Equal(t, "http://client/acks", cs.AcksTo)
			assert.True(t, cs.HasOffer())
			assert.Equal(t, protocol.SequenceID("urn:uuid:offer-x"), cs.OfferID)
			if v == protocol.WSRM11 {
				assert.Equal(t, "http://client/acks", cs.OfferEndpoint)
			}
			assert.Empty(t, info.InputID())
		})
	}
}

func TestDecodeCreateSequenceRequiresAcksTo(t *testing.T) {
	v := protocol.WSRM11
	msg := rawMessage(t, v, v.Action(protocol.ElementCreateSequence), "",
		`<r:CreateSequence><r:AcksTo><a:Address></a:Address></r:AcksTo></r:CreateSequence>`)

	info := Decode(v, SessionContext{}, msg)
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, protocol.FaultCodeSender, info.FaultReply().Code)
	assert.True(t, rmerrors.IsCode(info.FaultErr(), rmerrors.CodeMalformedMessage))
	assert.Equal(t, OpInvalid, info.Operation())
}

func TestDecodeSequencedMessage(t *testing.T) {
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			out, err := protocol.NewSequencedMessage(v, "urn:example:echo", "urn:uuid:y", 1, false, nil)
			require.NoError(t, err)

			info := Decode(v, SessionContext{}, roundTrip(t, out))

			require.Nil(t, info.FaultReply(), "a claimed mustUnderstand header is not a violation")
			require.NotNil(t, info.Sequence)
			assert.Equal(t, protocol.SequenceID("urn:uuid:y"), info.Sequence.SequenceID)
			assert.Equal(t, int64(1), info.Sequence.MessageNumber)
			assert.False(t, info.Sequence.LastMessage)
			assert.Equal(t, protocol.SequenceID("urn:uuid:y"), info.InputID())
			assert.Equal(t, OpSequence, info.Operation())
		})
	}
}

func TestDecodeSequenceWithPiggybackedAck(t *testing.T) {
	v := protocol.WSRM11
	msg := rawMessage(t, v, "urn:example:echo",
		sequenceHeader("urn:uuid:in", "4")+ackHeader("urn:uuid:out", ackRange(1, 2)), "")

	info := Decode(v, SessionContext{}, msg)
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.Sequence)
	require.NotNil(t, info.Acknowledgement)
	assert.Equal(t, protocol.SequenceID("urn:uuid:in"), info.InputID())
	assert.Equal(t, protocol.SequenceID("urn:uuid:out"), info.OutputID())
	assert.Equal(t, OpSequence, info.Operation())
}

func TestDecodeLastMessage(t *testing.T) {
	v := protocol.WSRMFeb2005
	out, err := protocol.NewSequencedMessage(v, "", "urn:uuid:y", 7, true, nil)
	require.NoError(t, err)
	assert.Equal(t, v.Action(protocol.ElementLastMessage), out.Action)

	info := Decode(v, SessionContext{}, roundTrip(t, out))
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.Sequence)
	assert.True(t, info.Sequence.LastMessage)
	assert.Equal(t, int64(7), info.Sequence.MessageNumber)
}

func TestDecodeRejectsDuplicateHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers string
		header  string
	}{
		{
			name:    "sequence",
			headers: sequenceHeader("urn:uuid:a", "1") + sequenceHeader("urn:uuid:a", "2"),
			header:  protocol.ElementSequence,
		},
		{
			name:    "acknowledgement",
			headers: ackHeader("urn:uuid:a", ackRange(1, 1)) + ackHeader("urn:uuid:a", ackRange(1, 2)),
			header:  protocol.ElementSequenceAcknowledgement,
		},
		{
			name:    "duplicate found even when the first is malformed",
			headers: sequenceHeader("urn:uuid:a", "zero") + sequenceHeader("urn:uuid:a", "2"),
			header:  protocol.ElementSequence,
		},
	}

	for _, v := range versions {
		for _, tt := range tests {
			t.Run(v.String()+"/"+tt.name, func(t *testing.T) {
				info := Decode(v, SessionContext{}, rawMessage(t, v, "urn:example:echo", tt.headers, ""))

				reply := info.FaultReply()
				require.NotNil(t, reply)
				assert.Equal(t, protocol.FaultCodeMustUnderstand, reply.Code)
				assert.Equal(t, v.Name(tt.header), reply.Header)
				assert.True(t, rmerrors.IsCode(info.FaultErr(), rmerrors.CodeMustUnderstand))
				assert.Nil(t, info.Sequence, "neither occurrence is preferred")
				assert.Nil(t, info.Acknowledgement)
			})
		}
	}
}

func TestDecodeAcknowledgementRanges(t *testing.T) {
	tooMany := &strings.Builder{}
	for i := int64(0); i <= protocol.MaxSequenceRanges; i++ {
		tooMany.WriteString(ackRange(2*i+1, 2*i+1))
	}

	tests := []struct {
		name    string
		version protocol.Version
		content string
		valid   bool
		want    []protocol.Range
	}{
		{"inverted feb2005", protocol.WSRMFeb2005, ackRange(5, 2), false, nil},
		{"inverted 1.1", protocol.WSRM11, ackRange(5, 2), false, nil},
		{"negative lower", protocol.WSRM11, ackRange(-1, 2), false, nil},
		{"zero lower feb2005", protocol.WSRMFeb2005, ackRange(0, 3), false, nil},
		{"zero lower 1.1", protocol.WSRM11, ackRange(0, 3), true, []protocol.Range{{Lower: 0, Upper: 3}}},
		{"zero upper 1.1", protocol.WSRM11, ackRange(0, 0), false, nil},
		{"nothing acknowledged", protocol.WSRM11, "", false, nil},
		{"none in feb2005", protocol.WSRMFeb2005, `<r:None/>`, false, nil},
		{"none with ranges", protocol.WSRM11, `<r:None/>` + ackRange(1, 1), false, nil},
		{"too many ranges", protocol.WSRM11, tooMany.String(), false, nil},
		{"non numeric bound", protocol.WSRM11, `<r:AcknowledgementRange Lower="one" Upper="2"/>`, false, nil},
		{
			name:    "merged to minimal cover",
			version: protocol.WSRMFeb2005,
			content: ackRange(1, 3) + ackRange(5, 7) + ackRange(4, 4),
			valid:   true,
			want:    []protocol.Range{{Lower: 1, Upper: 7}},
		},
		{
			name:    "duplicates collapse",
			version: protocol.WSRM11,
			content: ackRange(1, 3) + ackRange(1, 3),
			valid:   true,
			want:    []protocol.Range{{Lower: 1, Upper: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.version
			msg := rawMessage(t, v, v.Action(protocol.ElementSequenceAcknowledgement),
				ackHeader("urn:uuid:out", tt.content), "")

			info := Decode(v, SessionContext{}, msg)
			if !tt.valid {
				reply := info.FaultReply()
				require.NotNil(t, reply)
				assert.Equal(t, v.Name(protocol.FaultSequenceTerminated), reply.Subcode)
				assert.Equal(t, protocol.SequenceID("urn:uuid:out"), reply.SequenceID)
				assert.True(t, rmerrors.IsCode(info.FaultErr(), rmerrors.CodeMalformedMessage))
				assert.Nil(t, info.Acknowledgement)
				return
			}

			require.Nil(t, info.FaultReply())
			require.NotNil(t, info.Acknowledgement)
			assert.Equal(t, tt.want, info.Acknowledgement.Ranges.Ranges())
			assert.Equal(t, OpAcknowledgement, info.Operation())
		})
	}
}

func TestDecodeAcknowledgementNoneAndFinal(t *testing.T) {
	out, err := protocol.NewAcknowledgement(protocol.WSRM11, "urn:uuid:out", protocol.RangeSet{}, true)
	require.NoError(t, err)

	info := Decode(protocol.WSRM11, SessionContext{}, roundTrip(t, out))
	require.Nil(t, info.FaultReply())
	ack := info.Acknowledgement
	require.NotNil(t, ack)
	assert.True(t, ack.None)
	assert.True(t, ack.Final)
	assert.True(t, ack.Ranges.IsEmpty())

	assert.Nil(t, ValidateFinalAck(protocol.WSRM11, "urn:uuid:out", ack, 0))
	assert.NotNil(t, ValidateFinalAck(protocol.WSRM11, "urn:uuid:out", ack, 3))
}

func TestDecodeNack(t *testing.T) {
	v := protocol.WSRMFeb2005
	msg := rawMessage(t, v, v.Action(protocol.ElementSequenceAcknowledgement),
		ackHeader("urn:uuid:out", `<r:Nack>2</r:Nack><r:Nack>5</r:Nack>`), "")

	info := Decode(v, SessionContext{}, msg)
	require.Nil(t, info.FaultReply())
	assert.Equal(t, []int64{2, 5}, info.Acknowledgement.Nacks)
}

func TestDecodeSequenceNumbers(t *testing.T) {
	v := protocol.WSRM11

	info := Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", sequenceHeader("urn:uuid:s", "0"), ""))
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, v.Name(protocol.FaultSequenceTerminated), info.FaultReply().Subcode)
	assert.Equal(t, protocol.SequenceID("urn:uuid:s"), info.FaultReply().SequenceID)

	info = Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", sequenceHeader("urn:uuid:s", "9223372036854775808"), ""))
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, v.Name(protocol.FaultMessageNumberRollover), info.FaultReply().Subcode)
	assert.True(t, rmerrors.IsCode(info.FaultErr(), rmerrors.CodeMessageNumberRollover))

	info = Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", sequenceHeader("", "1"), ""))
	require.NotNil(t, info.FaultReply())
	assert.Empty(t, info.FaultReply().Subcode.Local, "no sequence to terminate")
}

func TestDecodeAckRequested(t *testing.T) {
	v := protocol.WSRMFeb2005
	msg := rawMessage(t, v, v.Action(protocol.ElementAckRequested),
		`<r:AckRequested><r:Identifier>urn:uuid:in</r:Identifier><r:MessageNumber>3</r:MessageNumber></r:AckRequested>`, "")

	info := Decode(v, SessionContext{}, msg)
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.AckRequested)
	assert.Equal(t, int64(3), info.AckRequested.MessageNumber)
	assert.Equal(t, protocol.SequenceID("urn:uuid:in"), info.InputID())
	assert.Equal(t, OpAckRequested, info.Operation())

	missing := Decode(v, SessionContext{}, rawMessage(t, v, v.Action(protocol.ElementAckRequested), "", ""))
	assert.NotNil(t, missing.FaultReply())
}

func TestDecodeTerminateAndClose(t *testing.T) {
	v := protocol.WSRM11

	terminate, err := protocol.NewTerminateSequence(v, "urn:uuid:t", 5)
	require.NoError(t, err)
	info := Decode(v, SessionContext{}, roundTrip(t, terminate))
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.TerminateSequence)
	assert.Equal(t, int64(5), info.TerminateSequence.LastMsgNumber)
	assert.Equal(t, protocol.SequenceID("urn:uuid:t"), info.InputID())

	closeSeq, err := protocol.NewCloseSequence("urn:uuid:c", 0)
	require.NoError(t, err)
	info = Decode(v, SessionContext{}, roundTrip(t, closeSeq))
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.CloseSequence)
	assert.Equal(t, protocol.SequenceID("urn:uuid:c"), info.InputID())
	assert.Equal(t, protocol.SequenceID("urn:uuid:c"), info.OutputID())

	response, err := protocol.NewTerminateSequenceResponse("urn:uuid:req", "urn:uuid:o")
	require.NoError(t, err)
	info = Decode(v, SessionContext{}, roundTrip(t, response))
	require.NotNil(t, info.TerminateSequenceResponse)
	assert.Equal(t, "urn:uuid:req", info.TerminateSequenceResponse.RelatesTo)
	assert.Equal(t, protocol.SequenceID("urn:uuid:o"), info.OutputID())
}

func TestDecodeRejectsUnsupportedAction(t *testing.T) {
	v := protocol.WSRMFeb2005
	msg := rawMessage(t, v, v.Action(protocol.ElementCloseSequence), "",
		`<r:CloseSequence><r:Identifier>urn:uuid:c</r:Identifier></r:CloseSequence>`)

	info := Decode(v, SessionContext{}, msg)
	require.NotNil(t, info.FaultReply())
	assert.Nil(t, info.CloseSequence)
}

func TestDecodeRejectsSequenceHeaderOnControlMessage(t *testing.T) {
	v := protocol.WSRM11
	create, err := protocol.NewCreateSequence(v, "http://host/rm", "http://client/acks", nil)
	require.NoError(t, err)
	require.NoError(t, protocol.AddSequenceHeader(create, v, "urn:uuid:s", 1, false))

	info := Decode(v, SessionContext{}, roundTrip(t, create))
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, protocol.SequenceID("urn:uuid:s"), info.FaultReply().SequenceID)
	assert.Nil(t, info.CreateSequence)
}

func TestDecodeMustUnderstand(t *testing.T) {
	v := protocol.WSRM11
	secret := xml.Name{Space: "urn:secret", Local: "Secret"}
	header := `<x:Secret xmlns:x="urn:secret" s:mustUnderstand="true">1</x:Secret>`

	info := Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", header, ""))
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, protocol.FaultCodeMustUnderstand, info.FaultReply().Code)
	assert.Equal(t, secret, info.FaultReply().Header)
	assert.True(t, rmerrors.IsCode(info.FaultErr(), rmerrors.CodeMustUnderstand))

	info = Decode(v, SessionContext{Understood: []xml.Name{secret}}, rawMessage(t, v, "urn:a", header, ""))
	assert.Nil(t, info.FaultReply())

	other := `<x:Secret xmlns:x="urn:secret" s:mustUnderstand="true" s:role="` + protocol.RoleNone + `">1</x:Secret>`
	info = Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", other, ""))
	assert.Nil(t, info.FaultReply(), "headers for other roles are not checked")

	unknownRM := `<r:Mystery s:mustUnderstand="1"/>`
	info = Decode(v, SessionContext{}, rawMessage(t, v, "urn:a", unknownRM, ""))
	require.NotNil(t, info.FaultReply())
	assert.Equal(t, v.Name("Mystery"), info.FaultReply().Header)
}

func TestDecodeReceivedWSRMFault(t *testing.T) {
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			out, err := protocol.UnknownSequenceFault(v, "urn:uuid:gone").Message(v, "")
			require.NoError(t, err)

			info := Decode(v, SessionContext{}, roundTrip(t, out))

			require.NoError(t, info.ParseErr)
			require.Nil(t, info.FaultReply(), "faults are never answered")
			require.NotNil(t, info.Fault)
			assert.Equal(t, v.Name(protocol.FaultUnknownSequence), info.Fault.Subcode)
			assert.True(t, rmerrors.IsCode(info.Fault.Err, rmerrors.CodeUnknownSequence))
			assert.Equal(t, protocol.SequenceID("urn:uuid:gone"), info.InputID())
			assert.Equal(t, protocol.SequenceID("urn:uuid:gone"), info.OutputID())
			assert.Equal(t, OpFault, info.Operation())
		})
	}
}

func TestDecodeVersionSpecificFaults(t *testing.T) {
	out, err := protocol.SequenceClosedFault(protocol.WSRM11, "urn:uuid:c").Message(protocol.WSRM11, "")
	require.NoError(t, err)

	info := Decode(protocol.WSRM11, SessionContext{}, roundTrip(t, out))
	require.NotNil(t, info.Fault)
	assert.True(t, info.Fault.FaultsOutput)
	assert.False(t, info.Fault.FaultsInput)
	assert.Empty(t, info.InputID())
	assert.Equal(t, protocol.SequenceID("urn:uuid:c"), info.OutputID())
}

func TestDecodeUnrecognizedFault(t *testing.T) {
	v := protocol.WSRM11
	body := `<s:Fault><s:Code><s:Value>s:Receiver</s:Value>` +
		`<s:Subcode><s:Value xmlns:c="urn:custom">c:Boom</s:Value></s:Subcode></s:Code>` +
		`<s:Reason><s:Text xml:lang="en">it broke</s:Text></s:Reason></s:Fault>`

	info := Decode(v, SessionContext{}, rawMessage(t, v, v.FaultAction(), "", body))
	require.NotNil(t, info.Fault)
	assert.True(t, rmerrors.IsCode(info.Fault.Err, rmerrors.CodeUnrecognizedFault))
	assert.Empty(t, info.InputID())

	errBoom := errors.New("boom")
	converter := FaultConverterFunc(func(f *protocol.Fault) error {
		if f.Subcode == (xml.Name{Space: "urn:custom", Local: "Boom"}) {
			return errBoom
		}
		return nil
	})
	info = Decode(v, SessionContext{Converter: converter}, rawMessage(t, v, v.FaultAction(), "", body))
	require.NotNil(t, info.Fault)
	assert.ErrorIs(t, info.Fault.Err, errBoom)
}

func TestDecodeMalformedFaultOnlySetsParseErr(t *testing.T) {
	v := protocol.WSRM11
	tests := []struct {
		name    string
		headers string
		body    string
	}{
		{
			name:    "duplicate header",
			headers: sequenceHeader("urn:uuid:a", "1") + sequenceHeader("urn:uuid:a", "2"),
			body:    soapFaultBody,
		},
		{
			name: "fault without code",
			body: `<s:Fault><s:Reason><s:Text>x</s:Text></s:Reason></s:Fault>`,
		},
		{
			name:    "bad acknowledgement",
			headers: ackHeader("urn:uuid:a", ackRange(5, 2)),
			body:    soapFaultBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Decode(v, SessionContext{}, rawMessage(t, v, v.FaultAction(), tt.headers, tt.body))
			assert.Error(t, info.ParseErr)
			assert.Nil(t, info.FaultReply())
			assert.Nil(t, info.FaultErr())
			assert.True(t, info.Failed())
		})
	}
}

func TestCreateSequenceOnly(t *testing.T) {
	v := protocol.WSRM11
	response, err := protocol.NewCreateSequenceResponse(v, "urn:uuid:req", "urn:uuid:new", "http://host/acks")
	require.NoError(t, err)
	response = roundTrip(t, response)
	response.Headers = append(response.Headers,
		rawMessage(t, v, "urn:a", sequenceHeader("urn:uuid:x", "1"), "").Headers...)

	info := Decode(v, SessionContext{}, response, CreateSequenceOnly())
	require.Nil(t, info.FaultReply())
	require.NotNil(t, info.CreateSequenceResponse)
	assert.Equal(t, protocol.SequenceID("urn:uuid:new"), info.CreateSequenceResponse.Identifier)
	assert.Equal(t, "http://host/acks", info.CreateSequenceResponse.AcceptAcksTo)
	assert.Nil(t, info.Sequence, "other headers are skipped")

	create, err := protocol.NewCreateSequence(v, "http://host/rm", "http://client/acks", nil)
	require.NoError(t, err)
	info = Decode(v, SessionContext{}, roundTrip(t, create), CreateSequenceOnly())
	assert.Nil(t, info.CreateSequence)
	assert.False(t, info.Failed())
}

func TestSetFaultIsSingleAssignment(t *testing.T) {
	info := &MessageInfo{}
	f := protocol.UnknownSequenceFault(protocol.WSRM11, "a")

	require.NoError(t, info.SetFault(f, f.Err))
	err := info.SetFault(f, f.Err)
	require.Error(t, err)
	assert.True(t, rmerrors.IsInvariant(err))
	assert.False(t, rmerrors.IsRecoverable(err))
	assert.Same(t, f, info.FaultReply())
}

func TestDecodeNilMessage(t *testing.T) {
	info := Decode(protocol.WSRM11, SessionContext{}, nil)
	assert.Error(t, info.ParseErr)
	assert.Nil(t, info.FaultReply())
}

func TestValidateAcknowledgement(t *testing.T) {
	ack := &AcknowledgementInfo{SequenceID: "o", Ranges: protocol.NewRangeSet(protocol.Range{Lower: 1, Upper: 4})}

	assert.Nil(t, ValidateAcknowledgement(protocol.WSRM11, ack, 4))
	f := ValidateAcknowledgement(protocol.WSRM11, ack, 3)
	require.NotNil(t, f)
	assert.Equal(t, protocol.WSRM11.Name(protocol.FaultInvalidAcknowledgement), f.Subcode)
	assert.Nil(t, ValidateAcknowledgement(protocol.WSRM11, nil, 0))
}

func TestValidateFinalAck(t *testing.T) {
	v := protocol.WSRM11
	final := &AcknowledgementInfo{
		SequenceID: "o",
		Ranges:     protocol.NewRangeSet(protocol.Range{Lower: 1, Upper: 3}),
		Final:      true,
	}

	assert.Nil(t, ValidateFinalAck(v, "o", final, 3))

	gap := *final
	gap.Ranges = protocol.NewRangeSet(protocol.Range{Lower: 1, Upper: 1}, protocol.Range{Lower: 3, Upper: 3})
	f := ValidateFinalAck(v, "o", &gap, 3)
	require.NotNil(t, f)
	assert.Equal(t, v.Name(protocol.FaultInvalidAcknowledgement), f.Subcode)

	notFinal := *final
	notFinal.Final = false
	f = ValidateFinalAck(v, "o", &notFinal, 3)
	require.NotNil(t, f)
	assert.Equal(t, v.Name(protocol.FaultSequenceTerminated), f.Subcode)
}
