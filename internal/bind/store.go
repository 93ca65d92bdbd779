package bind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/db/sqlc"
)

const codeIndex = "linking_codes_code_unused_unique"

// errDuplicateCode signals a code collision on insert; Issue retries.
var errDuplicateCode = errors.New("duplicate linking code")

// Store is the persistence used by Service.
type Store interface {
	CreateCode(ctx context.Context, code Code) (Code, error)
	GetUnusedCode(ctx context.Context, code string) (Code, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

// TxStore is the transactional view used while consuming a code.
type TxStore interface {
	LockUnusedCode(ctx context.Context, code string) (Code, error)
	MarkUsed(ctx context.Context, codeID, identityID string) error
	FindIdentityForUpdate(ctx context.Context, channelType, channelUserID string) (identities.ChannelIdentity, error)
	CreateIdentity(ctx context.Context, in identities.CreateInput) (identities.ChannelIdentity, error)
	RepointIdentity(ctx context.Context, identity identities.ChannelIdentity, ownerUserID string) (identities.ChannelIdentity, error)
}

// PgStore implements Store on Postgres.
type PgStore struct {
	pool       db.TxBeginner
	queries    *sqlc.Queries
	identities *identities.Service
}

// NewPgStore builds a Store backed by the pool.
func NewPgStore(pool db.TxBeginner, queries *sqlc.Queries, identitySvc *identities.Service) *PgStore {
	return &PgStore{pool: pool, queries: queries, identities: identitySvc}
}

func (s *PgStore) CreateCode(ctx context.Context, code Code) (Code, error) {
	owner, err := db.ParseUUID(code.OwnerUserID)
	if err != nil {
		return Code{}, fmt.Errorf("owner user id: %w", err)
	}
	row, err := s.queries.CreateLinkingCode(ctx, sqlc.CreateLinkingCodeParams{
		Code:        code.Code,
		OwnerUserID: owner,
		ChannelType: code.ChannelType,
		ExpiresAt:   db.Timestamptz(code.ExpiresAt),
	})
	if err != nil {
		if db.IsUniqueViolation(err, codeIndex) {
			return Code{}, errDuplicateCode
		}
		return Code{}, err
	}
	return toCode(row), nil
}

func (s *PgStore) GetUnusedCode(ctx context.Context, code string) (Code, error) {
	return mapCode(s.queries.GetUnusedLinkingCode(ctx, code))
}

func (s *PgStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.queries.MarkExpiredLinkingCodesUsed(ctx, db.Timestamptz(now))
}

func (s *PgStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTxStore{queries: s.queries.WithTx(tx), identities: s.identities.WithTx(tx)})
	})
}

type pgTxStore struct {
	queries    *sqlc.Queries
	identities *identities.Service
}

func (s *pgTxStore) LockUnusedCode(ctx context.Context, code string) (Code, error) {
	return mapCode(s.queries.GetUnusedLinkingCodeForUpdate(ctx, code))
}

func (s *pgTxStore) MarkUsed(ctx context.Context, codeID, identityID string) error {
	id, err := db.ParseUUID(codeID)
	if err != nil {
		return ErrCodeNotFound
	}
	params := sqlc.MarkLinkingCodeUsedParams{ID: id}
	if identityID != "" {
		if params.UsedByIdentityID, err = db.ParseUUID(identityID); err != nil {
			return fmt.Errorf("identity id: %w", err)
		}
	}
	return s.queries.MarkLinkingCodeUsed(ctx, params)
}

func (s *pgTxStore) FindIdentityForUpdate(ctx context.Context, channelType, channelUserID string) (identities.ChannelIdentity, error) {
	return s.identities.FindByChannelForUpdate(ctx, channelType, channelUserID)
}

func (s *pgTxStore) CreateIdentity(ctx context.Context, in identities.CreateInput) (identities.ChannelIdentity, error) {
	return s.identities.Create(ctx, in)
}

func (s *pgTxStore) RepointIdentity(ctx context.Context, identity identities.ChannelIdentity, ownerUserID string) (identities.ChannelIdentity, error) {
	return s.identities.Repoint(ctx, identity, ownerUserID)
}

func mapCode(row sqlc.LinkingCode, err error) (Code, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrCodeNotFound
		}
		return Code{}, err
	}
	return toCode(row), nil
}

func toCode(row sqlc.LinkingCode) Code {
	return Code{
		ID:               db.UUIDString(row.ID),
		Code:             row.Code,
		OwnerUserID:      db.UUIDString(row.OwnerUserID),
		ChannelType:      row.ChannelType,
		ExpiresAt:        db.TimeFromPg(row.ExpiresAt),
		Used:             row.Used,
		UsedAt:           db.TimeFromPg(row.UsedAt),
		UsedByIdentityID: db.UUIDString(row.UsedByIdentityID),
		CreatedAt:        db.TimeFromPg(row.CreatedAt),
	}
}
