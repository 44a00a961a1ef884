package models

import "time"

// Cookie is a browser cookie in a driver-independent shape.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// SessionState is the authenticated marketplace session shared by all crawl
// workers. It is replaced wholesale on refresh and never mutated in place.
type SessionState struct {
	Platform   Platform  `json:"platform"`
	Identity   string    `json:"identity"`
	Cookies    []Cookie  `json:"cookies"`
	ObtainedAt time.Time `json:"obtained_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Generation int64     `json:"generation"`
}

// Valid reports whether the session can be used at the given instant.
func (s *SessionState) Valid(now time.Time) bool {
	if s == nil || len(s.Cookies) == 0 {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
