// package services defines the client for the import server's HTTP API
package services

import (
	"strings"
)

// Credentials are the MangaDex account and personal API client forwarded with an import.
type Credentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// Normalize trims surrounding whitespace from every field except the password.
func (c Credentials) Normalize() Credentials {
	return Credentials{
		Username:     strings.TrimSpace(c.Username),
		Password:     c.Password,
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
	}
}

// Missing names the empty fields, in form-field order.
func (c Credentials) Missing() []string {
	n := c.Normalize()
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"username", n.Username},
		{"password", n.Password},
		{"client_id", n.ClientID},
		{"client_secret", n.ClientSecret},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Upload is the manga list sent with an import (CSV or MAL XML export).
type Upload struct {
	Name string
	Data []byte
}

// Present reports whether a file was chosen.
func (u Upload) Present() bool {
	return strings.TrimSpace(u.Name) != ""
}

// SubmitResponse is the body of a successful POST /api/follow.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// QueueStatus is the body of GET /api/queue.
type QueueStatus struct {
	Position int `json:"position"`
	Queued   int `json:"queued"`
}
