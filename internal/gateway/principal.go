// Package gateway implements Titan's external client entry point (spec.md
// §4.6): HTTP login/logout, single-use connection tickets, the
// websocket/gRPC hub transports, and the presence/session-log cells that
// track connected clients.
package gateway

import "time"

// Principal is the authenticated identity a session or ticket resolves to.
type Principal struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SessionRecord is the persisted shape of one login session (spec.md
// §4.6).
type SessionRecord struct {
	SessionID         string    `json:"sessionId"`
	UserID            string    `json:"userId"`
	Roles             []string  `json:"roles"`
	Provider          string    `json:"provider"`
	ExpiresAt         time.Time `json:"expiresAt"`
	SlidingExpiration bool      `json:"slidingExpiration"`
}

func (s SessionRecord) principal() Principal {
	return Principal{UserID: s.UserID, Roles: s.Roles}
}
