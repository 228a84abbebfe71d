package domain

// Relay event names. The relay pairs waiting users, forwards opaque
// negotiation payloads between the two parties of a match, and broadcasts
// aggregate usage counters.
const (
	EventFindMatch    = "find-match"
	EventMatch        = "match"
	EventWaiting      = "waiting"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventPartnerLeft  = "partner-left"
	EventChatMessage  = "chat-message"
	EventStatsUpdate  = "stats-update"

	// EventConnectError is synthesized locally by the signaling client,
	// once per failed transport (re)connection attempt.
	EventConnectError = "connect-error"
)

// Role is assigned by the relay's pairing event. Only the initiator
// originates offers; the responder always yields in a glare.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// SDPPayload is the JSON structure for SDP offer/answer descriptions.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for trickled ICE candidates.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// MatchPayload announces a pairing. The receiver becomes the initiator.
type MatchPayload struct {
	PartnerID string `json:"partnerId"`
}

// OfferPayload carries an SDP offer tagged with the sender's identity.
type OfferPayload struct {
	PeerID string     `json:"peerId"`
	Offer  SDPPayload `json:"offer"`
}

// AnswerPayload carries an SDP answer tagged with the sender's identity.
type AnswerPayload struct {
	PeerID string     `json:"peerId"`
	Answer SDPPayload `json:"answer"`
}

// CandidatePayload carries a trickled ICE candidate tagged with the
// sender's identity.
type CandidatePayload struct {
	PeerID    string              `json:"peerId"`
	Candidate ICECandidatePayload `json:"candidate"`
}

// ChatMessage is a relayed text message. Timestamp is unix milliseconds.
type ChatMessage struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender,omitempty"`
}

// StatsUpdate carries the relay's aggregate usage counters.
type StatsUpdate struct {
	TotalUsers         int `json:"totalUsers"`
	WaitingUsers       int `json:"waitingUsers"`
	ActivePartnerships int `json:"activePartnerships"`
}

// ConnectErrorPayload describes a failed signaling transport attempt.
type ConnectErrorPayload struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}
