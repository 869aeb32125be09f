package session

import "time"

// Turn roles within a conversation.
const (
	RoleCustomer = "customer"
	RoleBot      = "bot"
)

// MediaRef points at a piece of multimedia the customer sent. The relay never
// stores media content, only the channel's reference to it.
type MediaRef struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Turn is one message exchanged in either direction within a conversation.
type Turn struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Media     []MediaRef `json:"media,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ActivityClass describes how recently a correspondent has been writing.
type ActivityClass string

const (
	// ClassActive means the last turn landed inside the inactivity window.
	ClassActive ActivityClass = "active"
	// ClassInactive means the session has gone quiet; the next exchange starts
	// with a reduced context window so the conversation reads as fresh.
	ClassInactive ActivityClass = "inactive"
)
