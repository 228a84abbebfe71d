package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Shahil-8848/GuffGaff-client/internal/capture"
	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
	rtc "github.com/Shahil-8848/GuffGaff-client/internal/webrtc"
)

// ErrBusy is returned when a find-new-partner request arrives while a
// match is already being sought or negotiated.
var ErrBusy = errors.New("matchmaking in progress")

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("session closed")

// Engine drives the peer connection. Implemented by the webrtc engine;
// mocked in tests.
type Engine interface {
	CreateConnection(role domain.Role, tracks *capture.TrackSet) error
	HandleOffer(p domain.OfferPayload)
	HandleAnswer(p domain.AnswerPayload)
	HandleCandidate(p domain.CandidatePayload)
	Close()
}

// Capturer owns the local media tracks.
type Capturer interface {
	Acquire(c capture.Constraints) (*capture.TrackSet, error)
	Release()
}

// Session coordinates the signaling channel, capture manager, and
// negotiation engine for one participant. It implements the engine's
// Reporter and is the only writer of the status snapshot (via the
// machine).
type Session struct {
	signaler   domain.Signaler
	engine     Engine
	capturer   Capturer
	machine    *Machine
	selfID     string
	retryDelay time.Duration

	mu         sync.Mutex
	active     bool
	partnerID  string
	tracks     *capture.TrackSet
	subs       []domain.Subscription
	retryTimer *time.Timer
}

var _ rtc.Reporter = (*Session)(nil)

// New creates a session. selfID is this participant's identity, matching
// the one stamped by the engine on outbound payloads.
func New(signaler domain.Signaler, engine Engine, capturer Capturer, selfID string) *Session {
	return &Session{
		signaler:   signaler,
		engine:     engine,
		capturer:   capturer,
		machine:    NewMachine(),
		selfID:     selfID,
		retryDelay: rtc.ReconnectDelay,
	}
}

// Machine exposes the state machine for status listeners and gating.
func (s *Session) Machine() *Machine {
	return s.machine
}

// Status returns the current snapshot.
func (s *Session) Status() Status {
	return s.machine.Status()
}

// Start connects the signaling channel, acquires local media, and
// registers the session-scoped event handlers. It does not request a
// match; call FindPartner for that.
func (s *Session) Start() error {
	if err := s.signaler.Connect(); err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}

	tracks, err := s.capturer.Acquire(capture.DefaultConstraints())
	if err != nil {
		s.machine.Apply(Fatal{Err: err})
		return fmt.Errorf("acquire media: %w", err)
	}

	s.mu.Lock()
	s.tracks = tracks
	s.active = true
	s.subs = []domain.Subscription{
		s.signaler.On(domain.EventMatch, s.onMatch),
		s.signaler.On(domain.EventWaiting, s.onWaiting),
		s.signaler.On(domain.EventOffer, s.onOffer),
		s.signaler.On(domain.EventAnswer, s.onAnswer),
		s.signaler.On(domain.EventICECandidate, s.onCandidate),
		s.signaler.On(domain.EventPartnerLeft, s.onPartnerLeft),
		s.signaler.On(domain.EventConnectError, s.onConnectError),
	}
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("id", s.selfID).Msg("session started")
	return nil
}

// FindPartner requests a new pairing. Rejected while a match is already
// being sought or negotiated; any current partner is abandoned.
func (s *Session) FindPartner() error {
	if !s.machine.CanFindPartner() {
		return ErrBusy
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopRetryLocked()
	s.partnerID = ""
	s.mu.Unlock()

	s.engine.Close()
	s.signaler.Send(domain.EventFindMatch, struct{}{})
	s.machine.Apply(SearchStarted{})
	return nil
}

// Close tears everything down: handlers, retry timer, peer connection,
// local media, signaling transport. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.stopRetryLocked()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.signaler.Off(sub)
	}
	s.engine.Close()
	s.capturer.Release()
	s.signaler.Close()
	s.machine.Apply(SessionClosed{})

	log.Info().Str("module", "session").Msg("session closed")
}

// alive reports whether handlers may still act, guarding every handler
// body against firing after teardown.
func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) onMatch(data json.RawMessage) {
	if !s.alive() {
		return
	}
	var p domain.MatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad match payload")
		return
	}

	log.Info().Str("module", "session").Str("partner", p.PartnerID).Msg("matched as initiator")

	s.mu.Lock()
	s.partnerID = p.PartnerID
	tracks := s.tracks
	s.mu.Unlock()

	s.machine.Apply(PartnerMatched{Initiator: true})
	if err := s.engine.CreateConnection(domain.RoleInitiator, tracks); err != nil {
		s.failSession(fmt.Errorf("create connection: %w", err))
	}
}

func (s *Session) onWaiting(json.RawMessage) {
	if !s.alive() {
		return
	}
	s.machine.Apply(RelayWaiting{})
}

func (s *Session) onOffer(data json.RawMessage) {
	if !s.alive() {
		return
	}
	var p domain.OfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad offer payload")
		return
	}

	s.mu.Lock()
	adopt := s.partnerID == ""
	if adopt {
		// First inbound offer establishes the pairing on the responder
		// side; the relay only sends the match event to the initiator.
		s.partnerID = p.PeerID
	} else if p.PeerID != s.partnerID {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("peer", p.PeerID).Msg("offer from stale peer dropped")
		return
	}
	tracks := s.tracks
	s.mu.Unlock()

	if adopt {
		log.Info().Str("module", "session").Str("partner", p.PeerID).Msg("matched as responder")
		s.machine.Apply(PartnerMatched{Initiator: false})
		if err := s.engine.CreateConnection(domain.RoleResponder, tracks); err != nil {
			s.failSession(fmt.Errorf("create connection: %w", err))
			return
		}
	} else if s.machine.Status().State == StateConnected {
		s.machine.Apply(NegotiationStarted{})
	}

	s.engine.HandleOffer(p)
}

func (s *Session) onAnswer(data json.RawMessage) {
	if !s.alive() {
		return
	}
	var p domain.AnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad answer payload")
		return
	}
	if !s.fromPartner(p.PeerID) {
		log.Debug().Str("module", "session").Str("peer", p.PeerID).Msg("answer from stale peer dropped")
		return
	}
	s.engine.HandleAnswer(p)
}

func (s *Session) onCandidate(data json.RawMessage) {
	if !s.alive() {
		return
	}
	var p domain.CandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad candidate payload")
		return
	}
	if !s.fromPartner(p.PeerID) {
		log.Debug().Str("module", "session").Str("peer", p.PeerID).Msg("candidate from stale peer dropped")
		return
	}
	s.engine.HandleCandidate(p)
}

func (s *Session) onPartnerLeft(json.RawMessage) {
	if !s.alive() {
		return
	}
	log.Info().Str("module", "session").Msg("partner left")

	s.mu.Lock()
	s.stopRetryLocked()
	s.partnerID = ""
	s.mu.Unlock()

	s.engine.Close()
	s.machine.Apply(PartnerLeft{})
}

func (s *Session) onConnectError(data json.RawMessage) {
	if !s.alive() {
		return
	}
	var p domain.ConnectErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.machine.Apply(SignalLost{Err: errors.New(p.Error)})
}

// IceConnected implements rtc.Reporter.
func (s *Session) IceConnected() {
	if !s.alive() {
		return
	}
	s.machine.Apply(IceConnected{})
}

// IceInterrupted implements rtc.Reporter. The disruption is presumed
// transient; no action is taken beyond the status update.
func (s *Session) IceInterrupted() {
	if !s.alive() {
		return
	}
	s.machine.Apply(IceInterrupted{})
}

// IceFailed implements rtc.Reporter. Below the retry ceiling the session
// schedules a full re-match after a fixed delay; at the ceiling it fails
// terminally.
func (s *Session) IceFailed() {
	if !s.alive() {
		return
	}

	st := s.machine.Apply(IceFailed{})
	switch st.State {
	case StateReconnecting:
		log.Warn().Str("module", "session").Int("attempt", st.ReconnectAttempts).Msg("ICE failed, scheduling re-match")
		s.mu.Lock()
		if s.active {
			s.stopRetryLocked()
			s.retryTimer = time.AfterFunc(s.retryDelay, s.rematch)
		}
		s.mu.Unlock()
	case StateFailed:
		log.Error().Str("module", "session").Msg("ICE failed past retry ceiling")
		s.mu.Lock()
		s.partnerID = ""
		s.mu.Unlock()
		s.engine.Close()
	}
}

// RemoteStream implements rtc.Reporter. The first inbound stream marks
// the session connected.
func (s *Session) RemoteStream(streamID string) {
	if !s.alive() {
		return
	}
	log.Info().Str("module", "session").Str("stream", streamID).Msg("remote stream adopted")
	s.machine.Apply(IceConnected{})
}

// NegotiationError implements rtc.Reporter. Non-fatal: the handle stays
// intact for a future renegotiation attempt.
func (s *Session) NegotiationError(err error) {
	if !s.alive() {
		return
	}
	log.Warn().Err(err).Str("module", "session").Msg("negotiation error")
	s.machine.Apply(NegotiationFailed{Err: err})
}

// rematch abandons the current partner and re-enters matchmaking. Runs on
// the retry timer.
func (s *Session) rematch() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.partnerID = ""
	s.mu.Unlock()

	s.engine.Close()
	s.signaler.Send(domain.EventFindMatch, struct{}{})
	s.machine.Apply(SearchStarted{})
}

func (s *Session) failSession(err error) {
	log.Error().Err(err).Str("module", "session").Msg("session failed")
	s.machine.Apply(Fatal{Err: err})
	s.engine.Close()
}

func (s *Session) fromPartner(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partnerID != "" && peerID == s.partnerID
}

func (s *Session) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}
