package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"otp-auth/internal/domain"
)

// MemoryIdentityRepository guarda identidades en memoria. Pensado para tests y desarrollo local.
type MemoryIdentityRepository struct {
	mu      sync.RWMutex
	kind    domain.Kind
	byID    map[string]domain.Identity
	byEmail map[string]string
}

func NewMemoryIdentityRepository(kind domain.Kind) *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		kind:    kind,
		byID:    make(map[string]domain.Identity),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryIdentityRepository) Kind() domain.Kind {
	return m.kind
}

func (m *MemoryIdentityRepository) Create(_ context.Context, identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[identity.Email]; ok {
		return ErrDuplicateEmail
	}
	identity.Kind = m.kind
	m.byID[identity.ID] = identity
	m.byEmail[identity.Email] = identity.ID
	return nil
}

func (m *MemoryIdentityRepository) GetByID(_ context.Context, id string) (domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.byID[id]
	if !ok {
		return domain.Identity{}, pgx.ErrNoRows
	}
	return identity, nil
}

func (m *MemoryIdentityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	m.mu.RLock()
	id, ok := m.byEmail[email]
	m.mu.RUnlock()
	if !ok {
		return domain.Identity{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryIdentityRepository) MarkVerified(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(identity *domain.Identity) {
		identity.Verified = true
		identity.UpdatedAt = at
	})
}

func (m *MemoryIdentityRepository) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) error {
	return m.mutate(id, func(identity *domain.Identity) {
		identity.PasswordHash = passwordHash
		identity.UpdatedAt = at
	})
}

func (m *MemoryIdentityRepository) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate, at time.Time) (domain.Identity, error) {
	err := m.mutate(id, func(identity *domain.Identity) {
		if update.Username != nil {
			identity.Username = *update.Username
		}
		if update.Bio != nil {
			identity.Bio = *update.Bio
		}
		identity.UpdatedAt = at
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return m.GetByID(ctx, id)
}

// Len devuelve la cantidad de identidades guardadas.
func (m *MemoryIdentityRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *MemoryIdentityRepository) mutate(id string, fn func(*domain.Identity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(&identity)
	m.byID[id] = identity
	return nil
}
