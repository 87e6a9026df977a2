package listener

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

func TestListenerAdmitsAndRoutes(t *testing.T) {
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			f := newMemoryFixture(t, v, transport.ShapeDatagram)
			ctx := testContext(t)
			client := f.dial(t)

			reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-1"))
			require.NoError(t, err)
			id := createdID(t, v, reply)

			s, err := f.listener.Accept(ctx)
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.Equal(t, id, s.ID())

			session := s.(*testSession)
			assert.Equal(t, protocol.SequenceID("urn:uuid:offer-1"), session.handle.OutputID())

			reply, err = client.Request(ctx, sequenced(t, v, id, 1))
			require.NoError(t, err)
			assert.Nil(t, reply)

			require.Eventually(t, func() bool { return len(session.deliveries()) == 2 },
				time.Second, 10*time.Millisecond)
			last := session.deliveries()[1]
			require.NotNil(t, last.Sequence)
			assert.Equal(t, int64(1), last.Sequence.MessageNumber)
			assert.Equal(t, 1, f.listener.Sessions())
		})
	}
}

func TestListenerDuplicateCreateReachesSameSession(t *testing.T) {
	f := newMemoryFixture(t, protocol.WSRM11, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	create := createSequence(t, f.v, "urn:uuid:offer-dup")
	first, err := client.Request(ctx, create)
	require.NoError(t, err)
	second, err := client.Request(ctx, create)
	require.NoError(t, err)

	assert.Equal(t, createdID(t, f.v, first), createdID(t, f.v, second))
	assert.Len(t, f.recorder.all(), 1)
	assert.Equal(t, 1, f.listener.Pending())

	_, err = f.listener.Accept(ctx)
	require.NoError(t, err)

	actx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	s, err := f.listener.Accept(actx)
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestListenerUnknownSequence(t *testing.T) {
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			f := newMemoryFixture(t, v, transport.ShapeDatagram)
			ctx := testContext(t)
			client := f.dial(t)

			reply, err := client.Request(ctx, sequenced(t, v, "urn:uuid:nobody", 1))
			require.NoError(t, err)
			fault := readFault(t, v, reply)
			assert.Equal(t, protocol.FaultUnknownSequence, fault.Subcode.Local)
		})
	}
}

func TestListenerMessageWithoutReliableContent(t *testing.T) {
	tests := []struct {
		version   protocol.Version
		wantFault bool
	}{
		{protocol.WSRM11, true},
		{protocol.WSRMFeb2005, false},
	}
	for _, tt := range tests {
		t.Run(tt.version.String(), func(t *testing.T) {
			f := newMemoryFixture(t, tt.version, transport.ShapeDatagram)
			ctx := testContext(t)
			client := f.dial(t)

			reply, err := client.Request(ctx, protocol.NewMessage("urn:test:plain"))
			require.NoError(t, err)
			if !tt.wantFault {
				assert.Nil(t, reply)
				return
			}
			fault := readFault(t, tt.version, reply)
			assert.Equal(t, protocol.FaultWSRMRequired, fault.Subcode.Local)
		})
	}
}

func TestListenerMustUnderstand(t *testing.T) {
	v := protocol.WSRM11
	secret := xml.Name{Space: "urn:secret", Local: "Secret"}
	withSecret := func() *protocol.Message {
		msg := sequenced(t, v, "urn:uuid:any", 1)
		header, err := protocol.NewHeader(secret, true, "1")
		require.NoError(t, err)
		msg.AddHeader(header)
		return msg
	}

	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	reply, err := f.dial(t).Request(ctx, withSecret())
	require.NoError(t, err)
	fault := readFault(t, v, reply)
	assert.Equal(t, protocol.FaultCodeMustUnderstand, fault.Code)
	assert.Empty(t, f.recorder.all())

	understood := newMemoryFixture(t, v, transport.ShapeDatagram, WithUnderstoodHeaders(secret))
	reply, err = understood.dial(t).Request(ctx, withSecret())
	require.NoError(t, err)
	fault = readFault(t, v, reply)
	assert.Equal(t, protocol.FaultUnknownSequence, fault.Subcode.Local)
}

func TestListenerDropsMalformedFault(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	data := fmt.Sprintf(`<s:Envelope xmlns:s="%s" xmlns:a="%s" xmlns:r="%s">`+
		`<s:Header><a:Action>%s</a:Action><a:MessageID>urn:uuid:m1</a:MessageID>`+
		`<r:SequenceAcknowledgement><r:Identifier>urn:uuid:a</r:Identifier>`+
		`<r:AcknowledgementRange Lower="5" Upper="2"/></r:SequenceAcknowledgement></s:Header>`+
		`<s:Body><s:Fault><s:Code><s:Value>s:Sender</s:Value></s:Code>`+
		`<s:Reason><s:Text xml:lang="en">broken</s:Text></s:Reason></s:Fault></s:Body></s:Envelope>`,
		protocol.NamespaceSOAP12, protocol.NamespaceAddressing, v.Namespace(), v.FaultAction())
	msg, err := protocol.Unmarshal([]byte(data))
	require.NoError(t, err)

	reply, err := client.Request(ctx, msg)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, StateOpened, f.listener.State())
}

func TestListenerBackpressure(t *testing.T) {
	v := protocol.WSRM11
	settings := testSettings(v)
	settings.MaxPendingChannels = 2
	f := newMemoryFixture(t, v, transport.ShapeDatagram, WithSettings(settings))
	ctx := testContext(t)
	client := f.dial(t)

	for i := 0; i < 2; i++ {
		reply, err := client.Request(ctx, createSequence(t, v, protocol.NewSequenceID()))
		require.NoError(t, err)
		createdID(t, v, reply)
	}
	reply, err := client.Request(ctx, createSequence(t, v, protocol.NewSequenceID()))
	require.NoError(t, err)
	fault := readFault(t, v, reply)
	assert.Equal(t, protocol.FaultCreateSequenceRefused, fault.Subcode.Local)
	assert.Equal(t, protocol.FaultConnectionLimitReached, fault.SubSubcode.Local)

	// accepting one frees a slot
	_, err = f.listener.Accept(ctx)
	require.NoError(t, err)
	reply, err = client.Request(ctx, createSequence(t, v, protocol.NewSequenceID()))
	require.NoError(t, err)
	createdID(t, v, reply)
}

func TestListenerCloseWaitsForLastSession(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-close"))
	require.NoError(t, err)
	createdID(t, v, reply)
	s, err := f.listener.Accept(ctx)
	require.NoError(t, err)
	session := s.(*testSession)

	require.NoError(t, f.listener.Close(ctx))
	assert.Equal(t, StateClosed, f.listener.State())

	// the live session still reaches the inner listener
	reply, err = client.Request(ctx, sequenced(t, v, session.ID(), 1))
	require.NoError(t, err)
	assert.Nil(t, reply)

	// new sessions are refused
	reply, err = client.Request(ctx, createSequence(t, v, "urn:uuid:offer-late"))
	require.NoError(t, err)
	fault := readFault(t, v, reply)
	assert.Equal(t, protocol.FaultEndpointUnavailable, fault.Subcode.Local)

	require.NoError(t, session.handle.OnClose(ctx))
	_, err = f.network.Dial(ctx, f.addr)
	assert.Error(t, err, "inner listener should be closed")
	assert.Equal(t, 0, f.listener.Sessions())

	s, err = f.listener.Accept(ctx)
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestListenerCloseFaultsPendingSessions(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-pending"))
	require.NoError(t, err)
	createdID(t, v, reply)

	require.NoError(t, f.listener.Close(ctx))
	sessions := f.recorder.all()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].isFaulted())
	assert.Equal(t, 0, f.listener.Sessions())

	_, err = f.network.Dial(ctx, f.addr)
	assert.Error(t, err)
}

func TestListenerFault(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-fault"))
	require.NoError(t, err)
	createdID(t, v, reply)
	_, err = f.listener.Accept(ctx)
	require.NoError(t, err)

	errBoom := errors.New("boom")
	f.listener.Fault(errBoom)
	f.listener.Fault(errors.New("again"))

	assert.Equal(t, StateFaulted, f.listener.State())
	assert.ErrorIs(t, f.listener.Err(), errBoom)
	session := f.recorder.all()[0]
	assert.True(t, session.isFaulted())
	assert.True(t, rmerrors.IsCode(session.faultErr, rmerrors.CodeListenerFaulted))
	assert.Equal(t, 0, f.listener.Sessions())

	_, err = f.listener.Accept(ctx)
	assert.True(t, rmerrors.IsCode(err, rmerrors.CodeListenerFaulted))
}

func TestListenerDeliveryErrorFaultsListener(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-broken"))
	require.NoError(t, err)
	id := createdID(t, v, reply)
	session := f.recorder.all()[0]
	session.mu.Lock()
	session.deliverErr = rmerrors.InternalError("deliver", errors.New("session broke"))
	session.mu.Unlock()

	_, err = client.Request(ctx, sequenced(t, v, id, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.listener.State() == StateFaulted },
		time.Second, 10*time.Millisecond)
	assert.True(t, session.isFaulted())
}

func TestListenerRecoverableDeliveryErrorKeepsPumping(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-flaky"))
	require.NoError(t, err)
	id := createdID(t, v, reply)
	session := f.recorder.all()[0]
	session.mu.Lock()
	session.deliverErr = rmerrors.UnknownSequence(id.String())
	session.mu.Unlock()

	_, err = client.Request(ctx, sequenced(t, v, id, 1))
	require.NoError(t, err)
	_, err = client.Request(ctx, sequenced(t, v, id, 2))
	require.NoError(t, err)

	assert.Equal(t, StateOpened, f.listener.State())
	require.Eventually(t, func() bool { return len(session.deliveries()) == 3 },
		time.Second, 10*time.Millisecond)
}

func TestListenerSessionRebinding(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeSession)
	ctx := testContext(t)
	create := createSequence(t, v, "urn:uuid:offer-rebind")

	first := f.dial(t)
	reply, err := first.Request(ctx, create)
	require.NoError(t, err)
	id := createdID(t, v, reply)

	// a second connection may not steal a connected session
	intruder := f.dial(t)
	_, _ = intruder.Request(ctx, create)
	select {
	case <-intruder.Aborted():
	case <-ctx.Done():
		t.Fatal("intruding channel was not aborted")
	}

	// the original connection is unaffected
	reply, err = first.Request(ctx, sequenced(t, v, id, 1))
	require.NoError(t, err)
	assert.Nil(t, reply)

	// once it ends, a retransmitted create moves the session
	first.Close()
	session := f.recorder.all()[0]
	require.Eventually(t, func() bool { return !session.binder.Connected() },
		time.Second, 10*time.Millisecond)

	second := f.dial(t)
	reply, err = second.Request(ctx, create)
	require.NoError(t, err)
	assert.Equal(t, id, createdID(t, v, reply))
	assert.True(t, session.binder.Connected())
	assert.Len(t, f.recorder.all(), 1)
}

func TestListenerSessionChannelClosedOnUnknownSequence(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeSession)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, sequenced(t, v, "urn:uuid:nobody", 1))
	require.NoError(t, err)
	fault := readFault(t, v, reply)
	assert.Equal(t, protocol.FaultUnknownSequence, fault.Subcode.Local)
	assert.Empty(t, f.recorder.all())
	assert.Equal(t, StateOpened, f.listener.State())
}

func TestListenerAbortKeepsLiveSessions(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-abort"))
	require.NoError(t, err)
	createdID(t, v, reply)
	s, err := f.listener.Accept(ctx)
	require.NoError(t, err)
	session := s.(*testSession)

	f.listener.Abort()
	assert.Equal(t, StateClosed, f.listener.State())
	assert.False(t, session.isFaulted())
	assert.Equal(t, 1, f.listener.Sessions())

	session.handle.OnAbort()
	_, err = f.network.Dial(ctx, f.addr)
	assert.Error(t, err)
}

func TestListenerLifecycleErrors(t *testing.T) {
	network := transport.NewMemoryNetwork()
	inner, err := network.Listen("lifecycle", transport.ShapeDatagram, transport.DefaultConfig().Connection)
	require.NoError(t, err)
	recorder := &sessionRecorder{v: protocol.WSRM11}

	_, err = New(nil, recorder.factory)
	assert.Error(t, err)
	_, err = New(inner, nil)
	assert.Error(t, err)

	bad := testSettings(protocol.WSRM11)
	bad.Version = "wsrm-2099"
	_, err = New(inner, recorder.factory, WithSettings(bad))
	assert.Error(t, err)

	l, err := New(inner, recorder.factory, WithSettings(testSettings(protocol.WSRM11)))
	require.NoError(t, err)
	_, err = l.Accept(context.Background())
	assert.True(t, rmerrors.IsCode(err, rmerrors.CodeInvalidState))

	require.NoError(t, l.Open(context.Background()))
	assert.True(t, rmerrors.IsCode(l.Open(context.Background()), rmerrors.CodeInvalidState))
	require.NoError(t, l.Close(context.Background()))
	require.NoError(t, l.Close(context.Background()))
}

// failingOpen is an inner listener that cannot open
type failingOpen struct {
	countingListener
}

func (f *failingOpen) Open(ctx context.Context) error {
	return rmerrors.TransportError("test", "open", errors.New("port taken"))
}

func TestListenerOpenFailureFaults(t *testing.T) {
	inner := &failingOpen{}
	recorder := &sessionRecorder{v: protocol.WSRM11}
	l, err := New(inner, recorder.factory, WithSettings(testSettings(protocol.WSRM11)))
	require.NoError(t, err)

	assert.Error(t, l.Open(context.Background()))
	assert.Equal(t, StateFaulted, l.State())
	assert.Equal(t, int32(1), inner.aborts.Load())
}

func TestListenerFactoryErrorRefuses(t *testing.T) {
	v := protocol.WSRM11
	f := newMemoryFixture(t, v, transport.ShapeDatagram)
	f.recorder.mu.Lock()
	f.recorder.err = errors.New("out of resources")
	f.recorder.mu.Unlock()
	ctx := testContext(t)
	client := f.dial(t)

	reply, err := client.Request(ctx, createSequence(t, v, "urn:uuid:offer-x"))
	require.NoError(t, err)
	fault := readFault(t, v, reply)
	assert.Equal(t, protocol.FaultCreateSequenceRefused, fault.Subcode.Local)
	assert.Equal(t, 0, f.listener.Sessions())
}

func TestListenViaRegistry(t *testing.T) {
	network := transport.NewMemoryNetwork()
	registry := transport.NewDefaultRegistry()
	registry.Register(transport.SchemeMemory, network.Factory())
	ctx := testContext(t)
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	recorder := &sessionRecorder{v: protocol.WSRM11}
	l, err := Listen(ctx, registry, "memory://registry-rm", recorder.factory,
		WithSettings(testSettings(protocol.WSRM11)))
	require.NoError(t, err)
	require.NoError(t, l.Open(ctx))
	t.Cleanup(l.Abort)

	client, err := network.Dial(ctx, "registry-rm")
	require.NoError(t, err)
	reply, err := client.Request(ctx, createSequence(t, protocol.WSRM11, "urn:uuid:offer-reg"))
	require.NoError(t, err)
	createdID(t, protocol.WSRM11, reply)
}
