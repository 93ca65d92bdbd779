package identities

import "time"

// ChannelIdentity binds a provider-native sender to an internal user.
type ChannelIdentity struct {
	ID             string            `json:"id"`
	OwnerUserID    string            `json:"owner_user_id"`
	ChannelType    string            `json:"channel_type"`
	ChannelUserID  string            `json:"channel_user_id"`
	DisplayName    string            `json:"display_name,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	AutoRegistered bool              `json:"auto_registered"`
	LinkedAt       time.Time         `json:"linked_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateInput describes a new identity row.
type CreateInput struct {
	OwnerUserID    string
	ChannelType    string
	ChannelUserID  string
	DisplayName    string
	Metadata       map[string]string
	AutoRegistered bool
}
