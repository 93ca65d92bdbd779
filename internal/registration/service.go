// Package registration resolves the sender of an inbound message to an
// internal user, enrolling unknown senders when the channel allows it.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
)

// Outcome is the terminal state of one resolution.
type Outcome int

const (
	OutcomeExistingUser Outcome = iota + 1
	OutcomeNewUser
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExistingUser:
		return "existing_user"
	case OutcomeNewUser:
		return "new_user"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ErrOrphanMismatch means the placeholder username belongs to an account that
// was not auto-registered, which human usernames cannot produce.
var ErrOrphanMismatch = errors.New("placeholder username held by a non auto-registered account")

// IdentityStore is the identity persistence used during resolution.
type IdentityStore interface {
	FindByChannel(ctx context.Context, channelType, channelUserID string) (identities.ChannelIdentity, error)
	Create(ctx context.Context, in identities.CreateInput) (identities.ChannelIdentity, error)
	Update(ctx context.Context, identity identities.ChannelIdentity, displayName string, metadata map[string]string) (identities.ChannelIdentity, error)
}

// AccountStore creates and finds placeholder accounts.
type AccountStore interface {
	CreatePlaceholder(ctx context.Context, username, displayName string) (accounts.Account, error)
	GetByUsername(ctx context.Context, username string) (accounts.Account, error)
}

// GatewayStarter starts a user's gateway.
type GatewayStarter interface {
	EnsureRunning(ctx context.Context, userID string) error
}

// TaskRunner runs detached side effects.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Result is the resolved sender.
type Result struct {
	Outcome  Outcome
	UserID   string
	Identity identities.ChannelIdentity
}

// Service resolves senders.
type Service struct {
	cfg        *config.Store
	identities IdentityStore
	accounts   AccountStore
	gateway    GatewayStarter
	tasks      TaskRunner
	logger     *slog.Logger
}

// NewService creates a registration service.
func NewService(log *slog.Logger, cfg *config.Store, identityStore IdentityStore, accountStore AccountStore, gateway GatewayStarter, tasks TaskRunner) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		identities: identityStore,
		accounts:   accountStore,
		gateway:    gateway,
		tasks:      tasks,
		logger:     log.With(slog.String("service", "registration")),
	}
}

// PlaceholderUsername is the deterministic username of an auto-registered account.
func PlaceholderUsername(channelType channel.Type, channelUserID string) string {
	return channelType.String() + ":" + strings.TrimSpace(channelUserID)
}

// Resolve maps msg's sender to a user.
func (s *Service) Resolve(ctx context.Context, msg channel.InboundMessage) (Result, error) {
	ct := msg.Channel.String()
	existing, err := s.identities.FindByChannel(ctx, ct, msg.ChannelUserID)
	if err == nil {
		s.refreshDisplayName(existing, msg.DisplayName)
		return Result{Outcome: OutcomeExistingUser, UserID: existing.OwnerUserID, Identity: existing}, nil
	}
	if !errors.Is(err, identities.ErrChannelIdentityNotFound) {
		return Result{}, fmt.Errorf("find channel identity: %w", err)
	}

	if !s.cfg.Current().Registration.AllowsChannel(ct) {
		s.logger.Info("unknown sender rejected",
			slog.String("channel", ct),
			slog.String("channel_user_id", msg.ChannelUserID),
		)
		return Result{Outcome: OutcomeRejected}, nil
	}

	account, err := s.placeholderAccount(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	created, err := s.identities.Create(ctx, identities.CreateInput{
		OwnerUserID:    account.ID,
		ChannelType:    ct,
		ChannelUserID:  msg.ChannelUserID,
		DisplayName:    msg.DisplayName,
		Metadata:       msg.Metadata,
		AutoRegistered: true,
	})
	if errors.Is(err, identities.ErrChannelIdentityExists) {
		winner, err := s.identities.FindByChannel(ctx, ct, msg.ChannelUserID)
		if err != nil {
			return Result{}, fmt.Errorf("re-read channel identity: %w", err)
		}
		return Result{Outcome: OutcomeExistingUser, UserID: winner.OwnerUserID, Identity: winner}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("create channel identity: %w", err)
	}

	s.logger.Info("sender auto-registered",
		slog.String("channel", ct),
		slog.String("channel_user_id", msg.ChannelUserID),
		slog.String("user_id", account.ID),
	)
	s.ensureGateway(account.ID)
	return Result{Outcome: OutcomeNewUser, UserID: account.ID, Identity: created}, nil
}

// placeholderAccount creates the sender's account, or adopts the one left
// behind when an earlier attempt failed before its identity was written.
func (s *Service) placeholderAccount(ctx context.Context, msg channel.InboundMessage) (accounts.Account, error) {
	username := PlaceholderUsername(msg.Channel, msg.ChannelUserID)
	account, err := s.accounts.CreatePlaceholder(ctx, username, msg.DisplayName)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, accounts.ErrUsernameTaken) {
		return accounts.Account{}, fmt.Errorf("create placeholder account: %w", err)
	}
	account, err = s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("load placeholder account: %w", err)
	}
	if !account.AutoRegistered {
		return accounts.Account{}, ErrOrphanMismatch
	}
	s.logger.Info("reusing placeholder account", slog.String("username", username), slog.String("user_id", account.ID))
	return account, nil
}

func (s *Service) refreshDisplayName(identity identities.ChannelIdentity, displayName string) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || displayName == identity.DisplayName || s.tasks == nil {
		return
	}
	s.tasks.Go("refresh_display_name", func(ctx context.Context) error {
		_, err := s.identities.Update(ctx, identity, displayName, nil)
		return err
	})
}

func (s *Service) ensureGateway(userID string) {
	if s.gateway == nil || s.tasks == nil {
		return
	}
	s.tasks.Go("ensure_gateway", func(ctx context.Context) error {
		return s.gateway.EnsureRunning(ctx, userID)
	})
}
