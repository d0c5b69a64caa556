package chat

import "time"

// DefaultDisplayName is used in prompts when the user has not introduced themselves.
const DefaultDisplayName = "Guest"

// Profile holds what the client told us about the user. Empty means unknown.
type Profile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName returns the known name or DefaultDisplayName.
func (p Profile) DisplayName() string {
	if p.Name == "" {
		return DefaultDisplayName
	}
	return p.Name
}

// Session captures one client-identified conversation.
type Session struct {
	ID        string    `json:"id"`
	History   []Turn    `json:"history"`
	Profile   Profile   `json:"profile"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Clone returns a deep copy safe to hand out of the store.
func (s Session) Clone() Session {
	out := s
	out.History = append([]Turn(nil), s.History...)
	return out
}
