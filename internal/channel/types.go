// Package channel defines the contract every chat provider adapter implements
// and the provider-neutral message shape the dispatch pipeline consumes.
package channel

import (
	"maps"
	"strings"
	"time"
)

// Type identifies a chat provider (telegram, discord, ...).
type Type string

func (t Type) String() string { return string(t) }

// ParseType normalizes a raw channel name.
func ParseType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// Payload is the provider-specific parsed webhook body. Each adapter defines
// its own payload type and only accepts its own.
type Payload interface {
	ChannelType() Type
}

// InboundMessage is a normalized message from a human sender.
type InboundMessage struct {
	Channel       Type
	ChannelUserID string
	DisplayName   string
	Text          string
	Metadata      map[string]string
	ReceivedAt    time.Time
}

// ReplyTarget returns where replies to this message go.
func (m InboundMessage) ReplyTarget() ReplyTarget {
	return ReplyTarget{ChannelUserID: m.ChannelUserID, Metadata: maps.Clone(m.Metadata)}
}

// ReplyTarget addresses an outbound message. Metadata carries provider routing
// hints captured from the inbound message (chat id, session webhook, ...).
type ReplyTarget struct {
	ChannelUserID string
	Metadata      map[string]string
}

// Meta returns a trimmed metadata value.
func (t ReplyTarget) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(t.Metadata[key])
}
