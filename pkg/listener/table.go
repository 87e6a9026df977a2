package listener

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// ChannelKind is the kind of session channel the listener hands out
type ChannelKind int

const (
	// KindInput sessions only receive. A February 2005 input listener
	// refuses offers.
	KindInput ChannelKind = iota
	// KindDuplex sessions send and receive. An offer is required.
	KindDuplex
	// KindReply sessions answer requests on the offered sequence. An offer
	// is required.
	KindReply
)

func (k ChannelKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindDuplex:
		return "duplex"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// ParseChannelKind maps "input", "duplex" or "reply" to a ChannelKind
func ParseChannelKind(name string) (ChannelKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "input":
		return KindInput, nil
	case "duplex", "":
		return KindDuplex, nil
	case "reply":
		return KindReply, nil
	}
	return KindDuplex, rmerrors.InvalidEnum("kind", name, []string{"input", "duplex", "reply"})
}

func (k ChannelKind) usesOffer() bool {
	return k == KindDuplex || k == KindReply
}

// sessionEntry is the table record of one admitted session. One entry
// backs both map keys of a duplex session.
type sessionEntry struct {
	inputID  protocol.SequenceID
	outputID protocol.SequenceID
	session  Session
	binder   *Binder
	handle   *SessionHandle
}

// admission is the outcome of tryAdmit
type admission struct {
	entry    *sessionEntry
	isNew    bool
	dispatch bool
	result   string
	refusal  *protocol.Fault
}

// sessionTable indexes live sessions by inbound sequence id and by accepted
// offer. Every method requires the listener lock.
type sessionTable struct {
	mu      *sync.Mutex
	version protocol.Version
	kind    ChannelKind
	// localAddresses restricts the CreateSequence To address when non-empty
	localAddresses []string
	maxPending     int

	byInput      map[protocol.SequenceID]*sessionEntry
	byOffer      map[protocol.SequenceID]*sessionEntry
	recentOffers *lru.Cache[protocol.SequenceID, struct{}]
}

func newSessionTable(mu *sync.Mutex, version protocol.Version, kind ChannelKind, maxPending, maxRecentOffers int, localAddresses []string) (*sessionTable, error) {
	if maxRecentOffers <= 0 {
		maxRecentOffers = 1
	}
	recent, err := lru.New[protocol.SequenceID, struct{}](maxRecentOffers)
	if err != nil {
		return nil, rmerrors.InvalidFieldValue("max_recent_offers", maxRecentOffers, err.Error())
	}
	return &sessionTable{
		mu:             mu,
		version:        version,
		kind:           kind,
		localAddresses: localAddresses,
		maxPending:     maxPending,
		byInput:        make(map[protocol.SequenceID]*sessionEntry),
		byOffer:        make(map[protocol.SequenceID]*sessionEntry),
		recentOffers:   recent,
	}, nil
}

// assertLocked panics with an invariant violation when the listener lock
// is not held
func assertLocked(mu *sync.Mutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic(rmerrors.InvariantViolation("listener lock not held"))
	}
}

// tryAdmit decides a CreateSequence. accepting reports whether the
// listener takes new sessions; pending is the number of sessions waiting to
// be accepted. newSession builds and enqueues the session for a fresh id.
func (t *sessionTable) tryAdmit(info *decoder.CreateSequenceInfo, accepting bool, pending int,
	newSession func(id, offer protocol.SequenceID) (*sessionEntry, error)) admission {
	assertLocked(t.mu)

	// a retransmitted create finds the session its first copy built
	if info.HasOffer() {
		if entry, ok := t.byOffer[info.OfferID]; ok {
			return admission{entry: entry, result: observability.AdmissionDuplicate}
		}
	}

	if !accepting {
		return admission{
			refusal: protocol.EndpointUnavailableFault(info.To),
			result:  observability.AdmissionRefusedNotFound,
		}
	}

	if reason := t.validateOffer(info); reason != "" {
		return admission{
			refusal: protocol.CreateSequenceRefusedFault(t.version, reason),
			result:  observability.AdmissionRefusedOffer,
		}
	}

	if !t.matchesLocalAddress(info.To) {
		return admission{
			refusal: protocol.EndpointUnavailableFault(info.To),
			result:  observability.AdmissionRefusedNotFound,
		}
	}

	if pending >= t.maxPending {
		return admission{
			refusal: protocol.ServerTooBusyFault(t.version, pending, t.maxPending),
			result:  observability.AdmissionRefusedBusy,
		}
	}

	var offer protocol.SequenceID
	if t.kind.usesOffer() {
		offer = info.OfferID
	}
	entry, err := newSession(protocol.NewSequenceID(), offer)
	if err != nil {
		return admission{
			refusal: protocol.CreateSequenceRefusedFault(t.version, err.Error()),
			result:  observability.AdmissionRefusedOffer,
		}
	}

	t.byInput[entry.inputID] = entry
	if !entry.outputID.IsZero() {
		t.byOffer[entry.outputID] = entry
	}
	return admission{entry: entry, isNew: true, dispatch: true, result: observability.AdmissionAdmitted}
}

// validateOffer returns why the offer rules refuse info, or ""
func (t *sessionTable) validateOffer(info *decoder.CreateSequenceInfo) string {
	if !info.HasOffer() {
		switch t.kind {
		case KindDuplex:
			return "A duplex session requires an offered sequence."
		case KindReply:
			return "A reply session requires an offered sequence."
		}
		return ""
	}
	if t.version == protocol.WSRMFeb2005 && t.kind == KindInput {
		return "An input session does not accept an offered sequence."
	}
	if t.recentOffers.Contains(info.OfferID) {
		return "The offered sequence was already used by a session that has ended."
	}
	return ""
}

func (t *sessionTable) matchesLocalAddress(to string) bool {
	if len(t.localAddresses) == 0 {
		return true
	}
	for _, addr := range t.localAddresses {
		if strings.EqualFold(strings.TrimRight(addr, "/"), strings.TrimRight(to, "/")) {
			return true
		}
	}
	return false
}

// find resolves a non-create message to its session. The output id is
// consulted only when sessions accept offers.
func (t *sessionTable) find(info *decoder.MessageInfo) *sessionEntry {
	assertLocked(t.mu)

	if id := info.InputID(); !id.IsZero() {
		if entry, ok := t.byInput[id]; ok {
			return entry
		}
	}
	if t.kind.usesOffer() {
		if id := info.OutputID(); !id.IsZero() {
			if entry, ok := t.byOffer[id]; ok {
				return entry
			}
		}
	}
	return nil
}

// remove deletes a session from both maps and remembers its offer. It
// reports whether anything was removed.
func (t *sessionTable) remove(inputID, outputID protocol.SequenceID) bool {
	assertLocked(t.mu)

	entry, ok := t.byInput[inputID]
	if !ok {
		return false
	}
	delete(t.byInput, inputID)
	if !outputID.IsZero() && t.byOffer[outputID] == entry {
		delete(t.byOffer, outputID)
	}
	if !entry.outputID.IsZero() {
		delete(t.byOffer, entry.outputID)
		t.recentOffers.Add(entry.outputID, struct{}{})
	}
	return true
}

// isLastSession reports whether id is the only session left
func (t *sessionTable) isLastSession(id protocol.SequenceID) bool {
	assertLocked(t.mu)
	_, ok := t.byInput[id]
	return ok && len(t.byInput) == 1
}

func (t *sessionTable) len() int {
	assertLocked(t.mu)
	return len(t.byInput)
}

// entries returns every live session
func (t *sessionTable) entries() []*sessionEntry {
	assertLocked(t.mu)
	out := make([]*sessionEntry, 0, len(t.byInput))
	for _, e := range t.byInput {
		out = append(out, e)
	}
	return out
}
