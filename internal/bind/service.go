// Package bind issues and consumes the single-use codes that link a channel
// identity to an existing account.
package bind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/chathub/internal/channel/identities"
)

const (
	defaultTTL      = 15 * time.Minute
	codeLength      = 8
	maxTokenRetries = 5
	// A create racing with auto-registration aborts the transaction; one
	// retry observes the committed row and re-points it instead.
	maxConsumeAttempts = 2
)

// Service manages linking code lifecycle.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a linking code service.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "bind")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a code for ownerUserID, valid on channelType for ttl.
func (s *Service) Issue(ctx context.Context, ownerUserID, channelType string, ttl time.Duration) (Code, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	channelType = normalizeChannel(channelType)
	if ownerUserID == "" || channelType == "" {
		return Code{}, ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	expiresAt := s.now().Add(ttl)
	for range maxTokenRetries {
		code, err := s.store.CreateCode(ctx, Code{
			Code:        newToken(),
			OwnerUserID: ownerUserID,
			ChannelType: channelType,
			ExpiresAt:   expiresAt,
		})
		if err == nil {
			s.logger.Info("linking code issued",
				slog.String("user_id", ownerUserID),
				slog.String("channel", channelType),
				slog.Time("expires_at", expiresAt),
			)
			return code, nil
		}
		if errors.Is(err, errDuplicateCode) {
			continue
		}
		return Code{}, fmt.Errorf("create linking code: %w", err)
	}
	return Code{}, ErrCodeConflict
}

// Get returns an unconsumed code by its text.
func (s *Service) Get(ctx context.Context, code string) (Code, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Code{}, ErrCodeNotFound
	}
	return s.store.GetUnusedCode(ctx, code)
}

// Consume links the sender to the code owner. The whole transition runs in
// one transaction; an expired code is marked used and that change commits
// even though ErrCodeExpired is returned.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (ConsumeResult, error) {
	in.Code = NormalizeCode(in.Code)
	in.ChannelType = normalizeChannel(in.ChannelType)
	in.ChannelUserID = strings.TrimSpace(in.ChannelUserID)
	if in.Code == "" {
		return ConsumeResult{}, ErrCodeNotFound
	}
	if in.ChannelType == "" || in.ChannelUserID == "" {
		return ConsumeResult{}, identities.ErrInvalidInput
	}

	var (
		result ConsumeResult
		err    error
	)
	for range maxConsumeAttempts {
		result, err = s.consumeOnce(ctx, in)
		if !errors.Is(err, identities.ErrChannelIdentityExists) {
			break
		}
	}
	if err != nil {
		return ConsumeResult{}, err
	}
	s.logger.Info("linking code consumed",
		slog.String("channel", in.ChannelType),
		slog.String("channel_user_id", in.ChannelUserID),
		slog.String("user_id", result.OwnerUserID),
		slog.String("outcome", result.Outcome.String()),
	)
	return result, nil
}

func (s *Service) consumeOnce(ctx context.Context, in ConsumeInput) (ConsumeResult, error) {
	var (
		result  ConsumeResult
		expired bool
	)
	err := s.store.InTx(ctx, func(tx TxStore) error {
		code, err := tx.LockUnusedCode(ctx, in.Code)
		if err != nil {
			return err
		}
		if code.Expired(s.now()) {
			expired = true
			return tx.MarkUsed(ctx, code.ID, "")
		}
		if normalizeChannel(code.ChannelType) != in.ChannelType {
			return ErrCodeMismatch
		}

		result = ConsumeResult{OwnerUserID: code.OwnerUserID}
		current, err := tx.FindIdentityForUpdate(ctx, in.ChannelType, in.ChannelUserID)
		switch {
		case err == nil && current.OwnerUserID == code.OwnerUserID:
			result.Outcome = OutcomeAlreadyLinked
			result.Identity = current
		case err == nil:
			moved, err := tx.RepointIdentity(ctx, current, code.OwnerUserID)
			if err != nil {
				return err
			}
			result.Outcome = OutcomeRelinked
			result.Identity = moved
			result.PreviousOwner = current.OwnerUserID
		case errors.Is(err, identities.ErrChannelIdentityNotFound):
			created, err := tx.CreateIdentity(ctx, identities.CreateInput{
				OwnerUserID:   code.OwnerUserID,
				ChannelType:   in.ChannelType,
				ChannelUserID: in.ChannelUserID,
				DisplayName:   in.DisplayName,
				Metadata:      in.Metadata,
			})
			if err != nil {
				return err
			}
			result.Outcome = OutcomeLinked
			result.Identity = created
		default:
			return fmt.Errorf("lock channel identity: %w", err)
		}
		return tx.MarkUsed(ctx, code.ID, result.Identity.ID)
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	if expired {
		return ConsumeResult{}, ErrCodeExpired
	}
	return result, nil
}

// SweepExpired marks every expired unconsumed code used.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.MarkExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired linking codes: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired linking codes swept", slog.Int64("count", n))
	}
	return n, nil
}

// NormalizeCode uppercases and trims user-typed code text.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeChannel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func newToken() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:codeLength])
}
