// Package users owns player accounts, the card ownership ledger and
// marketplace listing records.
package users

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/apperr"
	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/catalog"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/obslog"
)

var (
	ErrUserNotFound      = apperr.New(apperr.NotFound, "user not found")
	ErrOwnedCardNotFound = apperr.New(apperr.NotFound, "owned card not found")
	ErrListingNotFound   = apperr.New(apperr.NotFound, "listing not found")
	ErrNotOwner          = apperr.New(apperr.Forbidden, "you do not own this card")
	ErrNotSeller         = apperr.New(apperr.Forbidden, "you are not the seller of this listing")
	ErrAlreadyListed     = apperr.New(apperr.Conflict, "card already has an active listing")
	ErrListingNotActive  = apperr.New(apperr.Conflict, "listing is not active")
	ErrAlreadyClaimed    = apperr.New(apperr.Conflict, "starter pack already claimed")
	ErrInvalidPrice      = apperr.New(apperr.Invalid, "price must be positive")
	ErrInvalidQuantity   = apperr.New(apperr.Invalid, "quantity must be positive")
	ErrInvalidUser       = apperr.New(apperr.Invalid, "user id is required")
	ErrUnknownTemplate   = apperr.New(apperr.Invalid, "unknown card template")
)

// maxDeckSize caps the draw pile built from a large inventory.
const maxDeckSize = 40

type Repository interface {
	Upsert(ctx context.Context, u *domain.User) error
	// Ensure creates a bare account if none exists and leaves an existing one alone.
	Ensure(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	RecordOutcome(ctx context.Context, winnerID, loserID string) error

	Grant(ctx context.Context, userID, templateID string, quantity int, value int64) (*domain.OwnedCard, error)
	Inventory(ctx context.Context, userID string) ([]domain.OwnedCard, error)

	CreateListing(ctx context.Context, l *domain.Listing) error
	CancelListing(ctx context.Context, sellerID, listingID string, at time.Time) (*domain.Listing, error)
	ActiveListings(ctx context.Context, limit int) ([]domain.Listing, error)
}

// Service is the account-facing layer the RPC server and the battle manager use.
type Service struct {
	repo  Repository
	cards *catalog.Catalog
	now   func() time.Time
}

func NewService(repo Repository, cards *catalog.Catalog) *Service {
	return &Service{repo: repo, cards: cards, now: time.Now}
}

func (s *Service) Repo() Repository { return s.repo }

func (s *Service) EnsureUser(ctx context.Context, id, name string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidUser
	}
	return s.repo.Ensure(ctx, strings.TrimSpace(id), strings.TrimSpace(name))
}

func (s *Service) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.Get(ctx, userID)
}

func (s *Service) Inventory(ctx context.Context, userID string) ([]domain.OwnedCard, error) {
	return s.repo.Inventory(ctx, userID)
}

// ClaimStarterPack grants the catalog starter deck to an account whose
// inventory is still empty.
func (s *Service) ClaimStarterPack(ctx context.Context, userID string) ([]domain.OwnedCard, error) {
	have, err := s.repo.Inventory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(have) > 0 {
		return nil, ErrAlreadyClaimed
	}
	counts := map[string]int{}
	for _, id := range s.cards.StarterDeck() {
		counts[id]++
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []domain.OwnedCard
	for _, id := range ids {
		t, _ := s.cards.Get(id)
		oc, err := s.repo.Grant(ctx, userID, id, counts[id], t.Value)
		if err != nil {
			return out, err
		}
		out = append(out, *oc)
	}
	obslog.L().Info("users_starter_pack", zap.String("user_id", userID), zap.Int("templates", len(out)))
	return out, nil
}

// Grant adds copies of a catalog card to a user's inventory.
func (s *Service) Grant(ctx context.Context, userID, templateID string, quantity int) (*domain.OwnedCard, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	t, ok := s.cards.Get(templateID)
	if !ok {
		return nil, ErrUnknownTemplate
	}
	return s.repo.Grant(ctx, userID, t.ID, quantity, t.Value)
}

func (s *Service) CreateListing(ctx context.Context, sellerID, ownedCardID string, price int64) (*domain.Listing, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	now := s.now().UTC()
	l := &domain.Listing{
		ID:          uuid.NewString(),
		OwnedCardID: strings.TrimSpace(ownedCardID),
		SellerID:    sellerID,
		Price:       price,
		Status:      domain.ListingActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateListing(ctx, l); err != nil {
		return nil, err
	}
	obslog.L().Info("users_listing_create", zap.String("listing_id", l.ID), zap.String("seller_id", sellerID), zap.Int64("price", price))
	return l, nil
}

func (s *Service) CancelListing(ctx context.Context, sellerID, listingID string) (*domain.Listing, error) {
	return s.repo.CancelListing(ctx, sellerID, strings.TrimSpace(listingID), s.now().UTC())
}

func (s *Service) Listings(ctx context.Context, limit int) ([]domain.Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ActiveListings(ctx, limit)
}

// DeckFor expands the inventory into template ids, one per copy, up to maxDeckSize.
func (s *Service) DeckFor(ctx context.Context, userID string) ([]string, error) {
	inv, err := s.repo.Inventory(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, oc := range inv {
		for i := 0; i < oc.Quantity && len(ids) < maxDeckSize; i++ {
			ids = append(ids, oc.TemplateID)
		}
	}
	return ids, nil
}

// RecordResult bumps win/loss counters once a battle has a winner.
func (s *Service) RecordResult(ctx context.Context, b *battle.Battle) error {
	if b == nil || b.WinnerID == "" {
		return nil
	}
	loser := b.HostID
	if loser == b.WinnerID {
		loser = b.OpponentID
	}
	return s.repo.RecordOutcome(ctx, b.WinnerID, loser)
}
