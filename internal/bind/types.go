package bind

import (
	"errors"
	"time"

	"github.com/memohai/chathub/internal/channel/identities"
)

// Errors returned by code operations. The chat-facing reply for the first
// three is the same "invalid or expired" text.
var (
	ErrCodeNotFound = errors.New("linking code not found")
	ErrCodeExpired  = errors.New("linking code expired")
	ErrCodeMismatch = errors.New("linking code is for another channel")
	ErrCodeConflict = errors.New("linking code collision after retries")
	ErrInvalidInput = errors.New("owner user id and channel type are required")
)

// Code is a single-use linking code.
type Code struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	OwnerUserID      string    `json:"owner_user_id"`
	ChannelType      string    `json:"channel_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	Used             bool      `json:"used"`
	UsedAt           time.Time `json:"used_at,omitzero"`
	UsedByIdentityID string    `json:"used_by_identity_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c Code) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Outcome is the result of a successful Consume.
type Outcome int

const (
	// OutcomeLinked created a new identity for the code owner.
	OutcomeLinked Outcome = iota + 1
	// OutcomeRelinked moved an existing identity from another owner.
	OutcomeRelinked
	// OutcomeAlreadyLinked found the identity already owned by the code owner.
	OutcomeAlreadyLinked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLinked:
		return "linked"
	case OutcomeRelinked:
		return "relinked"
	case OutcomeAlreadyLinked:
		return "already_linked"
	default:
		return "unknown"
	}
}

// ConsumeInput identifies the sender presenting a code.
type ConsumeInput struct {
	Code          string
	ChannelType   string
	ChannelUserID string
	DisplayName   string
	Metadata      map[string]string
}

// ConsumeResult describes a successful link.
type ConsumeResult struct {
	Outcome       Outcome
	Identity      identities.ChannelIdentity
	OwnerUserID   string
	PreviousOwner string
}
