// SPDX-License-Identifier: ice License 1.0

// Package session implements the Relay Session component (spec §4.5):
// the per-connection actor that dispatches the wire protocol
// (EVENT/REQ/CLOSE/AUTH), owns the connection's local subscription
// table, and issues/checks its own authentication challenge.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gookit/goutil/errorx"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrwire/relay/broadcast"
	"github.com/nostrwire/relay/cfg"
	"github.com/nostrwire/relay/model"
	"github.com/nostrwire/relay/store"
	"github.com/nostrwire/relay/subscription"
)

// State is the session's place in the Unauth/Authed/Closed machine
// drawn in spec §4.5.
type State int32

const (
	StateUnauth State = iota
	StateAuthed
	StateClosed
)

// Writer is the transport's write side, one text or control frame per
// call. server/ws's gobwas-backed adapter implements this; messageType
// follows RFC 6455 opcodes (1 = text, 9 = ping) so this package has no
// transport-library dependency of its own.
type Writer interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const (
	opText = 1
	opPing = 9
)

const (
	mailboxCapacity = 256
	frameCapacity   = 64
)

const (
	firstPingDelay  = 30 * time.Second
	pingInterval    = 50 * time.Second
	challengeLength = 16
)

// Session is one connection's actor and the Broadcaster's delivery
// Sink for it.
type Session struct {
	id     string
	conn   Writer
	store  store.Store
	index  *subscription.Index
	bc     *broadcast.Broadcaster
	policy *cfg.PolicyStore

	writeMx sync.Mutex

	// state, authChallenge and authedPubkey are only ever touched from
	// run's dispatchFrame calls, which spec §4.5 requires to run in
	// receive order on a single goroutine -- no lock needed for them.
	state         State
	authChallenge string
	authedPubkey  string

	subsMx sync.Mutex
	subs   map[string]model.Filters

	mailbox  chan *model.Event
	frames   chan frameJob
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// frameJob is one inbound wire frame queued for the actor goroutine.
type frameJob struct {
	ctx context.Context
	raw []byte
}

// New builds a Session for connection id, writing frames through conn
// and consulting st/index/bc/policy for storage, fan-out and policy
// decisions.
func New(id string, conn Writer, st store.Store, index *subscription.Index, bc *broadcast.Broadcaster, policy *cfg.PolicyStore) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		store:   st,
		index:   index,
		bc:      bc,
		policy:  policy,
		state:   StateUnauth,
		subs:    make(map[string]model.Filters),
		mailbox: make(chan *model.Event, mailboxCapacity),
		frames:  make(chan frameJob, frameCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ConnID implements broadcast.Sink.
func (s *Session) ConnID() string { return s.id }

// Deliver implements broadcast.Sink: a non-blocking enqueue into this
// session's mailbox. The actor goroutine started by Start drains it
// and performs the local filter re-check spec §4.5 calls load-bearing.
func (s *Session) Deliver(ev *model.Event) bool {
	select {
	case s.mailbox <- ev:
		return true
	default:
		return false
	}
}

// Start registers the session as a broadcast sink and launches its
// background goroutines: the single actor loop that serializes inbound
// frames against mailbox deliveries, and the keep-alive ping timer.
// Call once, before feeding frames to HandleFrame.
func (s *Session) Start(ctx context.Context) {
	s.bc.RegisterSink(s)
	go s.run(ctx)
	go s.pingLoop(ctx)
}

// Close tears the session down: subscriptions are dropped from the
// index, the broadcaster forgets this sink, and the connection is
// closed. Safe to call more than once and from any goroutine. Spec
// §4.5 requires this cleanup to run even on abnormal termination, so
// transports must defer it around their read loop.
//
// Close blocks until run has actually exited before touching the
// index. run is the only goroutine that calls index.Register (via
// handleReq), so waiting for it guarantees UnregisterAll can never run
// concurrently with a Register for this same connection -- without
// that ordering, a Register racing a terminating connection's teardown
// could leave a stale entry in the index's author membership set that
// no later event ever clears.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.index.UnregisterAll(s.id)
		s.bc.UnregisterSink(s.id)
		_ = s.conn.Close()
	})
}

// run is the session's single actor goroutine: it alternates between
// dispatching inbound frames and draining live deliveries off the
// mailbox, never both at once. That serialization is what makes spec
// §5's ordering guarantee hold -- a live delivery queued while a
// handleReq call is running its historical query cannot reach
// deliverLocal until dispatchFrame returns, so it can never be written
// between two historical EVENT frames or before the EOSE that closes
// them out.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case job := <-s.frames:
			s.dispatchFrame(job.ctx, job.raw)
		case ev := <-s.mailbox:
			s.deliverLocal(ev)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliverLocal runs the per-subscription filter re-check against the
// session's own subscription table -- the Subscription Index is
// author-only and coarse, so this is where the real filter (kinds,
// ids, since/until, tags) is actually enforced, per spec §4.5 and
// Design Notes §9 ("filter matching locality").
func (s *Session) deliverLocal(ev *model.Event) {
	s.subsMx.Lock()
	matches := make([]string, 0, len(s.subs))
	for subID, filters := range s.subs {
		if model.MatchAny(filters, ev) {
			matches = append(matches, subID)
		}
	}
	s.subsMx.Unlock()

	for _, subID := range matches {
		subID := subID
		env := &nostr.EventEnvelope{SubscriptionID: &subID, Event: ev.Event}
		if err := s.writeEnvelope(env); err != nil {
			log.Printf("WARN: session %v: live delivery write failed for sub %v: %v", s.id, subID, err)

			return
		}
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	timer := time.NewTimer(firstPingDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if err := s.writeRaw(opPing, nil); err != nil {
				log.Printf("WARN: session %v: ping write failed, closing: %v", s.id, err)
				s.Close()

				return
			}
			timer.Reset(pingInterval)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writeRaw(opCode int, data []byte) error {
	s.writeMx.Lock()
	defer s.writeMx.Unlock()

	return s.conn.WriteMessage(opCode, data)
}

func (s *Session) writeEnvelope(env nostr.Envelope) error {
	data, err := env.MarshalJSON()
	if err != nil {
		return errorx.Withf(err, "failed to marshal %v envelope", env.Label())
	}

	return s.writeRaw(opText, data)
}

func (s *Session) notice(msg string) {
	env := nostr.NoticeEnvelope(msg)
	if err := s.writeEnvelope(&env); err != nil {
		log.Printf("WARN: session %v: failed to write NOTICE: %v", s.id, err)
	}
}

func (s *Session) ok(eventID string, ok bool, reason string) {
	env := &nostr.OKEnvelope{EventID: eventID, OK: ok, Reason: reason}
	if err := s.writeEnvelope(env); err != nil {
		log.Printf("WARN: session %v: failed to write OK: %v", s.id, err)
	}
}

// issueChallenge generates a fresh 16-byte hex auth challenge,
// overwriting any prior one, and sends it. Per spec §4.5 this both
// answers an auth-required EVENT/REQ and serves as the value the
// client's subsequent AUTH event must echo.
func (s *Session) issueChallenge() {
	raw := make([]byte, challengeLength)
	if _, err := rand.Read(raw); err != nil {
		log.Panic(errorx.Withf(err, "failed to read random bytes for auth challenge"))
	}
	s.authChallenge = hex.EncodeToString(raw)

	env := &nostr.AuthEnvelope{Challenge: &s.authChallenge}
	if err := s.writeEnvelope(env); err != nil {
		log.Printf("WARN: session %v: failed to write AUTH challenge: %v", s.id, err)
	}
}

// HandleFrame queues one inbound wire frame for the actor goroutine.
// The transport's read loop calls this once per received text frame,
// in receive order; run's select guarantees frames are dispatched in
// that same order, each one running to completion before the next
// frame or mailbox delivery is picked up.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	select {
	case s.frames <- frameJob{ctx: ctx, raw: raw}:
	case <-s.stop:
	}
}

// dispatchFrame parses and dispatches one frame. Only ever called from
// run, so it and everything it calls can assume no concurrent mailbox
// delivery or frame dispatch is in flight for this session.
func (s *Session) dispatchFrame(ctx context.Context, raw []byte) {
	env, err := model.ParseMessage(raw)
	if err != nil {
		s.notice("Invalid message")

		return
	}

	switch e := env.(type) {
	case *nostr.EventEnvelope:
		s.handleEvent(ctx, &model.Event{Event: e.Event})
	case *model.ReqEnvelope:
		s.handleReq(ctx, e)
	case *nostr.CloseEnvelope:
		s.handleClose(string(*e))
	case *nostr.AuthEnvelope:
		s.handleAuth(ctx, e)
	default:
		s.notice("Invalid message")
	}
}

func (s *Session) handleEvent(ctx context.Context, ev *model.Event) {
	if verr := ev.Validate(); verr != nil {
		s.ok(ev.ID, false, "invalid: "+verr.Error())

		return
	}

	policy := s.policy.Load()
	if policy.AuthRequired && s.state != StateAuthed {
		s.issueChallenge()

		return
	}
	if !policy.Allowed(ev.PubKey) {
		s.ok(ev.ID, false, "blocked: not authorized")

		return
	}

	if ev.Kind == model.KindAuthentication {
		s.ok(ev.ID, false, "AUTH events are not stored")

		return
	}

	if err := s.store.AcceptEvent(ctx, ev); err != nil && !errors.Is(err, store.ErrDuplicate) {
		log.Printf("ERROR: session %v: store event %v: %v", s.id, ev.ID, err)
		s.ok(ev.ID, false, "Something went wrong")

		return
	}

	if ev.Kind == nostr.KindDeletion {
		s.handleDeletion(ctx, ev)
	}

	s.ok(ev.ID, true, "")
	s.bc.Broadcast(ev, s.id)
}

// handleDeletion drops the events a NIP-09 kind:5 deletion event
// references, scoped to the deleting pubkey so a client can never
// delete another author's events.
func (s *Session) handleDeletion(ctx context.Context, ev *model.Event) {
	filters, err := model.DeletionFilters(ev.Tags)
	if err != nil {
		log.Printf("WARN: session %v: malformed deletion event %v: %v", s.id, ev.ID, err)

		return
	}
	if len(filters) == 0 {
		return
	}
	if err = s.store.DeleteEvents(ctx, filters, ev.PubKey); err != nil {
		log.Printf("ERROR: session %v: delete events for %v: %v", s.id, ev.ID, err)
	}
}

func (s *Session) handleReq(ctx context.Context, e *model.ReqEnvelope) {
	policy := s.policy.Load()
	if policy.AuthRequired && s.state != StateAuthed {
		s.issueChallenge()

		return
	}
	if !model.RequireAuthors(e.Filters) {
		s.notice(`rejected: this relay requires an 'authors' filter for all subscriptions`)

		return
	}

	s.subsMx.Lock()
	s.subs[e.SubscriptionID] = e.Filters
	s.subsMx.Unlock()

	// Registering in the index before running the historical query
	// means any event stored concurrently is reflected in the query
	// results, arrives afterward as a live delivery, or both (an event
	// stored after Register but before Query is returned by the query
	// and still broadcast to this session) -- never neither. The actor
	// loop in run is what makes that
	// live delivery arrive strictly after, not during: deliverLocal for
	// this session can't run until this call returns, so no live EVENT
	// can land between a historical EVENT and the EOSE below.
	s.index.Register(s.id, e.SubscriptionID, e.Filters)

	events, err := s.store.Query(ctx, e.Filters, model.Timestamp(time.Now().Unix()))
	if err != nil {
		log.Printf("ERROR: session %v: query for sub %v: %v", s.id, e.SubscriptionID, err)
	}
	for _, ev := range events {
		subID := e.SubscriptionID
		env := &nostr.EventEnvelope{SubscriptionID: &subID, Event: ev.Event}
		if werr := s.writeEnvelope(env); werr != nil {
			log.Printf("WARN: session %v: failed writing historical event for sub %v: %v", s.id, subID, werr)

			return
		}
	}

	eose := nostr.EOSEEnvelope(e.SubscriptionID)
	if err = s.writeEnvelope(&eose); err != nil {
		log.Printf("WARN: session %v: failed writing EOSE for sub %v: %v", s.id, e.SubscriptionID, err)
	}
}

func (s *Session) handleClose(subID string) {
	s.subsMx.Lock()
	delete(s.subs, subID)
	s.subsMx.Unlock()
	s.index.Unregister(s.id, subID)

	notice := nostr.NoticeEnvelope("Closed sub_id: `" + subID + "`")
	if err := s.writeEnvelope(&notice); err != nil {
		log.Printf("WARN: session %v: failed writing CLOSE notice: %v", s.id, err)
	}
}

func (s *Session) handleAuth(_ context.Context, e *nostr.AuthEnvelope) {
	ev := &model.Event{Event: e.Event}
	if verr := ev.Validate(); verr != nil {
		s.ok(ev.ID, false, "invalid: auth event validation failed")

		return
	}

	if ev.Kind != model.KindAuthentication {
		s.ok(ev.ID, false, "invalid: auth event validation failed")

		return
	}

	policy := s.policy.Load()
	if !policy.Allowed(ev.PubKey) {
		s.ok(ev.ID, false, "invalid: auth event validation failed")

		return
	}

	challengeTag := ev.Tags.GetFirst([]string{"challenge"})
	relayTag := ev.Tags.GetFirst([]string{"relay"})
	if s.authChallenge == "" || challengeTag == nil || challengeTag.Value() != s.authChallenge || relayTag == nil {
		s.ok(ev.ID, false, "invalid: auth event validation failed")

		return
	}

	s.authedPubkey = ev.PubKey
	s.authChallenge = ""
	s.state = StateAuthed
	s.ok(ev.ID, true, "")
}
