// Package identities stores the mapping from (channel type, channel user id)
// to internal users. Rows are soft-deleted only; every read ignores deleted rows.
package identities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/db/sqlc"
)

// uniqueIndex guards (channel_type, channel_user_id) among live rows.
const uniqueIndex = "channel_identities_channel_user_unique"

var (
	ErrChannelIdentityNotFound = errors.New("channel identity not found")
	ErrChannelIdentityExists   = errors.New("channel identity already exists")
	ErrInvalidInput            = errors.New("channel type and channel user id are required")
)

// Service provides channel identity lifecycle operations.
type Service struct {
	queries *sqlc.Queries
	logger  *slog.Logger
}

// NewService creates a new channel identity service.
func NewService(log *slog.Logger, queries *sqlc.Queries) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		queries: queries,
		logger:  log.With(slog.String("service", "channel/identities")),
	}
}

// WithTx returns a Service whose statements run inside tx.
func (s *Service) WithTx(tx pgx.Tx) *Service {
	return &Service{queries: s.queries.WithTx(tx), logger: s.logger}
}

// FindByChannel returns the live identity for the pair.
func (s *Service) FindByChannel(ctx context.Context, channelType, channelUserID string) (ChannelIdentity, error) {
	channelType, channelUserID = normalize(channelType, channelUserID)
	if channelType == "" || channelUserID == "" {
		return ChannelIdentity{}, ErrInvalidInput
	}
	row, err := s.queries.GetChannelIdentityByChannel(ctx, sqlc.GetChannelIdentityByChannelParams{
		ChannelType:   channelType,
		ChannelUserID: channelUserID,
	})
	return mapRow(row, err)
}

// FindByChannelForUpdate is FindByChannel with a row lock; only meaningful
// on a Service returned by WithTx.
func (s *Service) FindByChannelForUpdate(ctx context.Context, channelType, channelUserID string) (ChannelIdentity, error) {
	channelType, channelUserID = normalize(channelType, channelUserID)
	if channelType == "" || channelUserID == "" {
		return ChannelIdentity{}, ErrInvalidInput
	}
	row, err := s.queries.GetChannelIdentityByChannelForUpdate(ctx, sqlc.GetChannelIdentityByChannelForUpdateParams{
		ChannelType:   channelType,
		ChannelUserID: channelUserID,
	})
	return mapRow(row, err)
}

// GetByID returns a live identity by id.
func (s *Service) GetByID(ctx context.Context, id string) (ChannelIdentity, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ChannelIdentity{}, ErrChannelIdentityNotFound
	}
	return mapRow(s.queries.GetChannelIdentityByID(ctx, pgID))
}

// Create inserts a new identity. A concurrent insert of the same pair yields
// ErrChannelIdentityExists; callers re-read with FindByChannel.
func (s *Service) Create(ctx context.Context, in CreateInput) (ChannelIdentity, error) {
	channelType, channelUserID := normalize(in.ChannelType, in.ChannelUserID)
	if channelType == "" || channelUserID == "" {
		return ChannelIdentity{}, ErrInvalidInput
	}
	owner, err := db.ParseUUID(in.OwnerUserID)
	if err != nil {
		return ChannelIdentity{}, fmt.Errorf("owner user id: %w", err)
	}
	row, err := s.queries.CreateChannelIdentity(ctx, sqlc.CreateChannelIdentityParams{
		UserID:         owner,
		ChannelType:    channelType,
		ChannelUserID:  channelUserID,
		DisplayName:    db.Text(in.DisplayName),
		Metadata:       db.MetadataBytes(in.Metadata),
		AutoRegistered: in.AutoRegistered,
	})
	if err != nil {
		if db.IsUniqueViolation(err, uniqueIndex) {
			return ChannelIdentity{}, ErrChannelIdentityExists
		}
		return ChannelIdentity{}, fmt.Errorf("create channel identity: %w", err)
	}
	s.logger.Info("channel identity created",
		slog.String("channel", channelType),
		slog.String("channel_user_id", channelUserID),
		slog.String("user_id", in.OwnerUserID),
		slog.Bool("auto_registered", in.AutoRegistered),
	)
	return toChannelIdentity(row), nil
}

// Update replaces the mutable profile fields. A nil metadata map keeps the stored one.
func (s *Service) Update(ctx context.Context, identity ChannelIdentity, displayName string, metadata map[string]string) (ChannelIdentity, error) {
	pgID, err := db.ParseUUID(identity.ID)
	if err != nil {
		return ChannelIdentity{}, ErrChannelIdentityNotFound
	}
	if metadata == nil {
		metadata = identity.Metadata
	}
	return mapRow(s.queries.UpdateChannelIdentityProfile(ctx, sqlc.UpdateChannelIdentityProfileParams{
		ID:          pgID,
		DisplayName: db.Text(displayName),
		Metadata:    db.MetadataBytes(metadata),
	}))
}

// Repoint moves the identity to another owner and marks it as explicitly linked.
func (s *Service) Repoint(ctx context.Context, identity ChannelIdentity, ownerUserID string) (ChannelIdentity, error) {
	pgID, err := db.ParseUUID(identity.ID)
	if err != nil {
		return ChannelIdentity{}, ErrChannelIdentityNotFound
	}
	owner, err := db.ParseUUID(ownerUserID)
	if err != nil {
		return ChannelIdentity{}, fmt.Errorf("owner user id: %w", err)
	}
	updated, err := mapRow(s.queries.RepointChannelIdentity(ctx, sqlc.RepointChannelIdentityParams{ID: pgID, UserID: owner}))
	if err != nil {
		return ChannelIdentity{}, err
	}
	s.logger.Info("channel identity re-pointed",
		slog.String("identity_id", identity.ID),
		slog.String("from_user_id", identity.OwnerUserID),
		slog.String("to_user_id", ownerUserID),
	)
	return updated, nil
}

// SoftDelete unlinks an identity owned by ownerUserID.
func (s *Service) SoftDelete(ctx context.Context, ownerUserID, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrChannelIdentityNotFound
	}
	owner, err := db.ParseUUID(ownerUserID)
	if err != nil {
		return ErrChannelIdentityNotFound
	}
	n, err := s.queries.SoftDeleteChannelIdentity(ctx, sqlc.SoftDeleteChannelIdentityParams{ID: pgID, UserID: owner})
	if err != nil {
		return fmt.Errorf("soft delete channel identity: %w", err)
	}
	if n == 0 {
		return ErrChannelIdentityNotFound
	}
	return nil
}

// ListByOwner returns the live identities of a user, oldest first.
func (s *Service) ListByOwner(ctx context.Context, ownerUserID string) ([]ChannelIdentity, error) {
	owner, err := db.ParseUUID(ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("owner user id: %w", err)
	}
	rows, err := s.queries.ListChannelIdentitiesByUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	items := make([]ChannelIdentity, 0, len(rows))
	for _, row := range rows {
		items = append(items, toChannelIdentity(row))
	}
	return items, nil
}

func normalize(channelType, channelUserID string) (string, string) {
	return strings.ToLower(strings.TrimSpace(channelType)), strings.TrimSpace(channelUserID)
}

func mapRow(row sqlc.ChannelIdentity, err error) (ChannelIdentity, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelIdentity{}, ErrChannelIdentityNotFound
		}
		return ChannelIdentity{}, err
	}
	return toChannelIdentity(row), nil
}

func toChannelIdentity(row sqlc.ChannelIdentity) ChannelIdentity {
	return ChannelIdentity{
		ID:             db.UUIDString(row.ID),
		OwnerUserID:    db.UUIDString(row.UserID),
		ChannelType:    row.ChannelType,
		ChannelUserID:  row.ChannelUserID,
		DisplayName:    db.TextToString(row.DisplayName),
		Metadata:       db.MetadataMap(row.Metadata),
		AutoRegistered: row.AutoRegistered,
		LinkedAt:       db.TimeFromPg(row.LinkedAt),
		CreatedAt:      db.TimeFromPg(row.CreatedAt),
		UpdatedAt:      db.TimeFromPg(row.UpdatedAt),
	}
}
