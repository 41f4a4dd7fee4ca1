package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/park285/cards-of-power/internal/domain"
)

// memrepo backs local runs and tests when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	users    map[string]*domain.User
	owned    map[string]*domain.OwnedCard // id -> card
	listings map[string]*domain.Listing
}

func NewMemoryRepository() Repository {
	return &memrepo{
		users:    make(map[string]*domain.User),
		owned:    make(map[string]*domain.OwnedCard),
		listings: make(map[string]*domain.Listing),
	}
}

func (m *memrepo) Upsert(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return ErrInvalidUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := u.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if cur, ok := m.users[u.ID]; ok {
		cur.Name, cur.Email, cur.Image, cur.UpdatedAt = u.Name, u.Email, u.Image, now
		return nil
	}
	cp := domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = &cp
	return nil
}

func (m *memrepo) Ensure(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		now := time.Now().UTC()
		m.users[id] = &domain.User{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (m *memrepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	for oid, oc := range m.owned {
		if oc.UserID == id {
			delete(m.owned, oid)
			for lid, l := range m.listings {
				if l.OwnedCardID == oid {
					delete(m.listings, lid)
				}
			}
		}
	}
	return nil
}

func (m *memrepo) Get(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memrepo) List(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memrepo) RecordOutcome(_ context.Context, winnerID, loserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[winnerID]; ok {
		u.Wins++
	}
	if u, ok := m.users[loserID]; ok {
		u.Losses++
	}
	return nil
}

func (m *memrepo) Grant(_ context.Context, userID, templateID string, quantity int, value int64) (*domain.OwnedCard, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.CardCount += quantity
	for _, oc := range m.owned {
		if oc.UserID == userID && oc.TemplateID == templateID {
			oc.Quantity += quantity
			oc.Value = value
			cp := *oc
			return &cp, nil
		}
	}
	oc := &domain.OwnedCard{
		ID:         uuid.NewString(),
		UserID:     userID,
		TemplateID: templateID,
		Quantity:   quantity,
		Value:      value,
		AcquiredAt: time.Now().UTC(),
	}
	m.owned[oc.ID] = oc
	cp := *oc
	return &cp, nil
}

func (m *memrepo) Inventory(_ context.Context, userID string) ([]domain.OwnedCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.OwnedCard
	for _, oc := range m.owned {
		if oc.UserID == userID && oc.Quantity > 0 {
			out = append(out, *oc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func (m *memrepo) CreateListing(_ context.Context, l *domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oc, ok := m.owned[l.OwnedCardID]
	if !ok {
		return ErrOwnedCardNotFound
	}
	if oc.UserID != l.SellerID {
		return ErrNotOwner
	}
	for _, cur := range m.listings {
		if cur.OwnedCardID == l.OwnedCardID && cur.Status == domain.ListingActive {
			return ErrAlreadyListed
		}
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *memrepo) CancelListing(_ context.Context, sellerID, listingID string, at time.Time) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return nil, ErrListingNotFound
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != domain.ListingActive {
		return nil, ErrListingNotActive
	}
	l.Status = domain.ListingCancelled
	l.UpdatedAt = at
	cp := *l
	return &cp, nil
}

func (m *memrepo) ActiveListings(_ context.Context, limit int) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Listing
	for _, l := range m.listings {
		if l.Status == domain.ListingActive {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
