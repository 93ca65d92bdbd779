package bind

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/chathub/internal/channel/identities"
)

// memStore is an in-memory Store; InTx serializes and rolls back on error.
type memStore struct {
	mu         sync.Mutex
	codes      map[string]Code
	identities map[string]identities.ChannelIdentity
	// raceOnCreate inserts a competing identity the first time CreateIdentity runs.
	raceOnCreate *identities.ChannelIdentity
	racePending  []func()
}

func newMemStore() *memStore {
	return &memStore{codes: map[string]Code{}, identities: map[string]identities.ChannelIdentity{}}
}

func identityKey(channelType, channelUserID string) string { return channelType + "|" + channelUserID }

func (m *memStore) CreateCode(_ context.Context, code Code) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.codes {
		if existing.Code == code.Code && !existing.Used {
			return Code{}, errDuplicateCode
		}
	}
	code.ID = uuid.NewString()
	code.CreatedAt = time.Now()
	m.codes[code.ID] = code
	return code, nil
}

func (m *memStore) GetUnusedCode(_ context.Context, code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findUnused(code)
}

func (m *memStore) findUnused(code string) (Code, error) {
	for _, c := range m.codes {
		if c.Code == code && !c.Used {
			return c, nil
		}
	}
	return Code{}, ErrCodeNotFound
}

func (m *memStore) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.codes {
		if !c.Used && c.ExpiresAt.Before(now) {
			c.Used = true
			c.UsedAt = now
			m.codes[id] = c
			n++
		}
	}
	return n, nil
}

func (m *memStore) InTx(_ context.Context, fn func(tx TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := maps.Clone(m.codes)
	idents := maps.Clone(m.identities)
	if err := fn(memTx{m}); err != nil {
		m.codes = codes
		m.identities = idents
		for _, apply := range m.racePending {
			apply()
		}
		m.racePending = nil
		return err
	}
	return nil
}

func (m *memStore) identity(channelType, channelUserID string) (identities.ChannelIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[identityKey(channelType, channelUserID)]
	return ident, ok
}

func (m *memStore) code(text string) Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Code == text {
			return c
		}
	}
	return Code{}
}

type memTx struct{ m *memStore }

func (t memTx) LockUnusedCode(_ context.Context, code string) (Code, error) {
	return t.m.findUnused(code)
}

func (t memTx) MarkUsed(_ context.Context, codeID, identityID string) error {
	c, ok := t.m.codes[codeID]
	if !ok {
		return ErrCodeNotFound
	}
	if c.UsedAt.IsZero() {
		c.UsedAt = time.Now()
	}
	c.Used = true
	if identityID != "" {
		c.UsedByIdentityID = identityID
	}
	t.m.codes[codeID] = c
	return nil
}

func (t memTx) FindIdentityForUpdate(_ context.Context, channelType, channelUserID string) (identities.ChannelIdentity, error) {
	ident, ok := t.m.identities[identityKey(channelType, channelUserID)]
	if !ok {
		return identities.ChannelIdentity{}, identities.ErrChannelIdentityNotFound
	}
	return ident, nil
}

func (t memTx) CreateIdentity(_ context.Context, in identities.CreateInput) (identities.ChannelIdentity, error) {
	key := identityKey(in.ChannelType, in.ChannelUserID)
	if race := t.m.raceOnCreate; race != nil {
		t.m.raceOnCreate = nil
		// The competing row commits outside this transaction.
		t.m.racePending = append(t.m.racePending, func() { t.m.identities[key] = *race })
		return identities.ChannelIdentity{}, identities.ErrChannelIdentityExists
	}
	if _, ok := t.m.identities[key]; ok {
		return identities.ChannelIdentity{}, identities.ErrChannelIdentityExists
	}
	ident := identities.ChannelIdentity{
		ID:             uuid.NewString(),
		OwnerUserID:    in.OwnerUserID,
		ChannelType:    in.ChannelType,
		ChannelUserID:  in.ChannelUserID,
		DisplayName:    in.DisplayName,
		Metadata:       in.Metadata,
		AutoRegistered: in.AutoRegistered,
	}
	t.m.identities[key] = ident
	return ident, nil
}

func (t memTx) RepointIdentity(_ context.Context, ident identities.ChannelIdentity, ownerUserID string) (identities.ChannelIdentity, error) {
	ident.OwnerUserID = ownerUserID
	ident.AutoRegistered = false
	t.m.identities[identityKey(ident.ChannelType, ident.ChannelUserID)] = ident
	return ident, nil
}

