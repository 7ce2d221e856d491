package gameclient

import (
	"encoding/json"
	"fmt"
)

// RemoteClientErrorType is used for errors that had to be reconstructed from an unexpected response.
const RemoteClientErrorType = "urn:x-tipp24:remote-client-error"

// Error is the problem record game code receives for failed requests.
type Error struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Details string `json:"details"`
	Status  int    `json:"status,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Title, e.Status, e.Details)
}

// ParseError makes sense of a non 2xx response body.
func ParseError(status int, body string) *Error {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed != nil {
		var msg string
		var code int
		if json.Unmarshal(parsed["error"], &msg) == nil && msg != "" &&
			json.Unmarshal(parsed["status"], &code) == nil && code != 0 {
			return &Error{Type: RemoteClientErrorType, Title: "Remote error", Details: msg, Status: code}
		}

		var e Error
		if json.Unmarshal([]byte(body), &e) == nil && e.Type != "" && e.Title != "" && e.Details != "" {
			return &e
		}
	}
	return &Error{Type: RemoteClientErrorType, Title: "Remote error", Status: status, Details: body}
}
