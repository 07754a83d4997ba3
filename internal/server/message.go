// Package server defines the wire message shapes exchanged between clients
// and the relay, plus helpers shared across session and group logic.
package server

import "strings"

// Handshake is the first message a client sends after connecting. It claims
// a username and selects the delivery group. A nil Encrypted field means the
// client wants the encrypted group.
type Handshake struct {
	Username  *string `json:"username"`
	Encrypted *bool   `json:"encrypted"`
}

// SystemMessage is a server-generated notice. Users is populated only for
// presence updates.
type SystemMessage struct {
	System bool     `json:"system"`
	Text   string   `json:"text"`
	Users  []string `json:"users,omitempty"`
}

// ChatMessage is a post-handshake chat frame. Payload is an opaque string
// the relay never decodes; encrypted-group clients put Fernet tokens in it.
type ChatMessage struct {
	Username string `json:"username"`
	Payload  string `json:"payload"`
}

func systemText(text string) SystemMessage {
	return SystemMessage{System: true, Text: text}
}

func presenceMessage(users []string) SystemMessage {
	return SystemMessage{System: true, Text: "Current Users", Users: users}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
