package webrtc

import (
	"time"

	pion "github.com/pion/webrtc/v4"
)

// Connection constants. ICE failure is retried by full re-match: the
// session abandons the current partner and re-enters matchmaking after
// ReconnectDelay, up to ReconnectCeiling attempts.
const (
	ReconnectCeiling = 3
	ReconnectDelay   = 2 * time.Second
)

// DefaultICEServers returns the fixed ICE server list: two public STUN
// endpoints plus a fallback TURN relay with static shared credentials.
// Not user-configurable.
func DefaultICEServers() []pion.ICEServer {
	return []pion.ICEServer{
		{
			URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:global.stun.twilio.com:3478",
			},
		},
		{
			URLs:       []string{"turn:openrelay.metered.ca:80"},
			Username:   "openrelayproject",
			Credential: "openrelayproject",
		},
	}
}
