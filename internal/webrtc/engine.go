package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Shahil-8848/GuffGaff-client/internal/capture"
	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
)

// Sender is the slice of the signaling channel the engine needs:
// fire-and-forget emission plus a connectivity check for trickle ICE.
type Sender interface {
	Connected() bool
	Send(event string, payload any)
}

// Reporter receives connection-health and negotiation events from the
// engine. The session state machine implements it.
type Reporter interface {
	IceConnected()
	IceInterrupted()
	IceFailed()
	RemoteStream(streamID string)
	NegotiationError(err error)
}

// handle is the live peer connection plus its negotiation flags. At most
// one exists per engine; creating a new one tears down the prior one.
type handle struct {
	pc   *pion.PeerConnection
	role domain.Role

	// isNegotiating collapses concurrent renegotiation triggers into one.
	// isMakingOffer marks the window used for glare detection. Both are
	// guarded by Engine.mu and released on every exit path.
	isNegotiating bool
	isMakingOffer bool

	remoteStream string
}

// Engine owns the one active peer connection and drives the
// offer/answer/ICE exchange. Callbacks from a torn-down handle are
// discarded by comparing the handle reference against the current one.
type Engine struct {
	sender   Sender
	localID  string
	sink     *RemoteSink
	reporter Reporter

	mu sync.Mutex
	h  *handle
}

// NewEngine creates an engine. localID is this participant's identity,
// stamped onto outbound negotiation payloads. sink may be nil, in which
// case remote tracks are drained.
// Call SetReporter before creating a connection to complete the circular
// dependency (engine reports into the session, the session drives the
// engine).
func NewEngine(sender Sender, localID string, sink *RemoteSink) *Engine {
	return &Engine{
		sender:   sender,
		localID:  localID,
		sink:     sink,
		reporter: noopReporter{},
	}
}

// SetReporter injects the reporter after construction.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// CreateConnection tears down any existing handle, then constructs a fresh
// peer connection with the fixed ICE server list, attaches the local
// tracks, and registers the negotiation callbacks. Construction failure is
// fatal to the session.
func (e *Engine) CreateConnection(role domain.Role, tracks *capture.TrackSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeHandleLocked()

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	reg := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, reg); err != nil {
		return fmt.Errorf("register interceptors: %w", err)
	}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return fmt.Errorf("create nack responder: %w", err)
	}
	reg.Add(responder)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(reg),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:    DefaultICEServers(),
		BundlePolicy:  pion.BundlePolicyMaxBundle,
		RTCPMuxPolicy: pion.RTCPMuxPolicyRequire,
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if tracks != nil {
		if tracks.Audio != nil {
			if _, err := pc.AddTrack(tracks.Audio.Local()); err != nil {
				pc.Close()
				return fmt.Errorf("add audio track: %w", err)
			}
		}
		if tracks.Video != nil {
			if _, err := pc.AddTrack(tracks.Video.Local()); err != nil {
				pc.Close()
				return fmt.Errorf("add video track: %w", err)
			}
		}
	}

	h := &handle{pc: pc, role: role}
	e.h = h

	pc.OnNegotiationNeeded(func() {
		e.negotiate(h)
	})
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		e.onLocalCandidate(h, c)
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		e.onICEState(h, state)
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		e.onRemoteTrack(h, track)
	})

	log.Info().Str("module", "webrtc").Str("role", string(role)).Msg("peer connection created")
	return nil
}

// negotiate emits one offer for any burst of renegotiation triggers. Only
// the initiator role originates offers; the responder never renegotiates.
func (e *Engine) negotiate(h *handle) {
	e.mu.Lock()
	if e.h != h || h.role != domain.RoleInitiator {
		e.mu.Unlock()
		return
	}
	if h.isNegotiating {
		e.mu.Unlock()
		return
	}
	h.isNegotiating = true
	h.isMakingOffer = true
	pc := h.pc
	e.mu.Unlock()

	// Release the re-entrancy flags on every exit path. A leaked flag
	// would leave the session permanently non-negotiable.
	defer func() {
		e.mu.Lock()
		h.isNegotiating = false
		h.isMakingOffer = false
		e.mu.Unlock()
	}()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		e.reporter.NegotiationError(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		e.reporter.NegotiationError(fmt.Errorf("set local description: %w", err))
		return
	}
	if !e.isCurrent(h) {
		return
	}

	desc := pc.LocalDescription()
	e.sender.Send(domain.EventOffer, domain.OfferPayload{
		PeerID: e.localID,
		Offer:  domain.SDPPayload{Type: desc.Type.String(), SDP: desc.SDP},
	})
	log.Debug().Str("module", "webrtc").Msg("offer sent")
}

// shouldIgnoreOffer implements glare resolution: the initiator never
// yields, the responder always yields.
func shouldIgnoreOffer(role domain.Role, makingOffer bool, state pion.SignalingState) bool {
	collision := makingOffer || state != pion.SignalingStateStable
	return collision && role == domain.RoleInitiator
}

// HandleOffer applies a remote offer and emits the answer. Colliding
// offers are silently discarded per the glare rule.
func (e *Engine) HandleOffer(p domain.OfferPayload) {
	e.mu.Lock()
	h := e.h
	if h == nil {
		e.mu.Unlock()
		log.Debug().Str("module", "webrtc").Msg("offer dropped, no connection")
		return
	}
	if shouldIgnoreOffer(h.role, h.isMakingOffer, h.pc.SignalingState()) {
		e.mu.Unlock()
		log.Debug().Str("module", "webrtc").Msg("glare, remote offer discarded")
		return
	}
	pc := h.pc
	e.mu.Unlock()

	remote := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: p.Offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		e.reporter.NegotiationError(fmt.Errorf("apply remote offer: %w", err))
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		e.reporter.NegotiationError(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		e.reporter.NegotiationError(fmt.Errorf("set local answer: %w", err))
		return
	}
	if !e.isCurrent(h) {
		return
	}

	desc := pc.LocalDescription()
	e.sender.Send(domain.EventAnswer, domain.AnswerPayload{
		PeerID: e.localID,
		Answer: domain.SDPPayload{Type: desc.Type.String(), SDP: desc.SDP},
	})
	log.Debug().Str("module", "webrtc").Msg("answer sent")
}

// HandleAnswer applies a remote answer. Answers arriving after teardown
// refer to a dead connection and are dropped.
func (e *Engine) HandleAnswer(p domain.AnswerPayload) {
	e.mu.Lock()
	h := e.h
	e.mu.Unlock()
	if h == nil {
		log.Debug().Str("module", "webrtc").Msg("answer dropped, no connection")
		return
	}

	remote := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: p.Answer.SDP}
	if err := h.pc.SetRemoteDescription(remote); err != nil {
		e.reporter.NegotiationError(fmt.Errorf("apply remote answer: %w", err))
	}
}

// HandleCandidate applies a trickled remote candidate. Candidates that
// arrive before the remote description is set are dropped, not queued.
func (e *Engine) HandleCandidate(p domain.CandidatePayload) {
	e.mu.Lock()
	h := e.h
	e.mu.Unlock()
	if h == nil {
		log.Debug().Str("module", "webrtc").Msg("candidate dropped, no connection")
		return
	}
	if h.pc.RemoteDescription() == nil {
		log.Debug().Str("module", "webrtc").Msg("candidate dropped, no remote description")
		return
	}

	mid := p.Candidate.SDPMid
	mlineIndex := uint16(p.Candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     p.Candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mlineIndex,
	}
	if err := h.pc.AddICECandidate(init); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("add remote candidate")
	}
}

// onLocalCandidate trickles a locally gathered candidate to the partner.
// Candidates generated while the signaling channel is down are dropped.
func (e *Engine) onLocalCandidate(h *handle, c *pion.ICECandidate) {
	if c == nil {
		log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
		return
	}
	if !e.isCurrent(h) {
		return
	}
	if !e.sender.Connected() {
		log.Debug().Str("module", "webrtc").Msg("signaling down, local candidate dropped")
		return
	}

	j := c.ToJSON()
	payload := domain.ICECandidatePayload{Candidate: j.Candidate}
	if j.SDPMid != nil {
		payload.SDPMid = *j.SDPMid
	}
	if j.SDPMLineIndex != nil {
		payload.SDPMLineIndex = int(*j.SDPMLineIndex)
	}
	e.sender.Send(domain.EventICECandidate, domain.CandidatePayload{
		PeerID:    e.localID,
		Candidate: payload,
	})
}

// onICEState forwards connection-health transitions to the reporter.
func (e *Engine) onICEState(h *handle, state pion.ICEConnectionState) {
	if !e.isCurrent(h) {
		return
	}
	log.Info().Str("module", "webrtc").Str("ice_state", state.String()).Msg("ICE state")

	switch state {
	case pion.ICEConnectionStateConnected, pion.ICEConnectionStateCompleted:
		e.reporter.IceConnected()
	case pion.ICEConnectionStateDisconnected:
		e.reporter.IceInterrupted()
	case pion.ICEConnectionStateFailed:
		e.reporter.IceFailed()
	}
}

// onRemoteTrack adopts the inbound stream. A new stream ID replaces the
// prior remote media wholesale.
func (e *Engine) onRemoteTrack(h *handle, track *pion.TrackRemote) {
	e.mu.Lock()
	if e.h != h {
		e.mu.Unlock()
		return
	}
	newStream := h.remoteStream != track.StreamID()
	h.remoteStream = track.StreamID()
	e.mu.Unlock()

	log.Info().
		Str("module", "webrtc").
		Str("kind", track.Kind().String()).
		Str("stream_id", track.StreamID()).
		Msg("remote track")

	if newStream {
		e.reporter.RemoteStream(track.StreamID())
	}

	if e.sink != nil {
		go e.sink.Consume(track)
	} else {
		go drainTrack(track)
	}
}

// Close tears down the current handle. Idempotent; in-flight negotiation
// steps targeting the old handle discard themselves.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeHandleLocked()
}

func (e *Engine) closeHandleLocked() {
	if e.h == nil {
		return
	}
	if err := e.h.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("close peer connection")
	}
	e.h = nil
	log.Info().Str("module", "webrtc").Msg("peer connection closed")
}

func (e *Engine) isCurrent(h *handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h == h
}

func drainTrack(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

type noopReporter struct{}

func (noopReporter) IceConnected()          {}
func (noopReporter) IceInterrupted()        {}
func (noopReporter) IceFailed()             {}
func (noopReporter) RemoteStream(string)    {}
func (noopReporter) NegotiationError(error) {}
