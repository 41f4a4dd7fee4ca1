package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/park285/cards-of-power/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for a unique index conflict.
const pgUniqueViolation = "23505"

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Upsert(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return ErrInvalidUser
	}
	const query = `
		INSERT INTO users (id, name, email, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			image = EXCLUDED.image,
			updated_at = EXCLUDED.updated_at`
	now := u.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Image, now)
	return err
}

func (r *repository) Ensure(ctx context.Context, id, name string) error {
	const query = `
		INSERT INTO users (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, id, name)
	return err
}

func (r *repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

const userColumns = `id, name, email, image, gold, card_count, wins, losses, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.Gold, &u.CardCount, &u.Wins, &u.Losses, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (r *repository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *repository) RecordOutcome(ctx context.Context, winnerID, loserID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE users SET wins = wins + 1, updated_at = now() WHERE id = $1`, winnerID); err != nil {
		return fmt.Errorf("record win: %w", err)
	}
	if loserID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET losses = losses + 1, updated_at = now() WHERE id = $1`, loserID); err != nil {
			return fmt.Errorf("record loss: %w", err)
		}
	}
	return tx.Commit()
}

func (r *repository) Grant(ctx context.Context, userID, templateID string, quantity int, value int64) (*domain.OwnedCard, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE users SET card_count = card_count + $2, updated_at = now() WHERE id = $1`, userID, quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserNotFound
	}

	const query = `
		INSERT INTO owned_cards (id, user_id, template_id, quantity, value, acquired_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, template_id) DO UPDATE SET
			quantity = owned_cards.quantity + EXCLUDED.quantity,
			value = EXCLUDED.value
		RETURNING id, user_id, template_id, quantity, value, acquired_at`
	var oc domain.OwnedCard
	err = tx.QueryRowContext(ctx, query, uuid.NewString(), userID, templateID, quantity, value).
		Scan(&oc.ID, &oc.UserID, &oc.TemplateID, &oc.Quantity, &oc.Value, &oc.AcquiredAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &oc, nil
}

func (r *repository) Inventory(ctx context.Context, userID string) ([]domain.OwnedCard, error) {
	const query = `
		SELECT id, user_id, template_id, quantity, value, acquired_at
		FROM owned_cards
		WHERE user_id = $1 AND quantity > 0
		ORDER BY template_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OwnedCard
	for rows.Next() {
		var oc domain.OwnedCard
		if err := rows.Scan(&oc.ID, &oc.UserID, &oc.TemplateID, &oc.Quantity, &oc.Value, &oc.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (r *repository) CreateListing(ctx context.Context, l *domain.Listing) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM owned_cards WHERE id = $1 FOR UPDATE`, l.OwnedCardID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnedCardNotFound
	}
	if err != nil {
		return err
	}
	if owner != l.SellerID {
		return ErrNotOwner
	}

	const query = `
		INSERT INTO listings (id, owned_card_id, seller_id, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, query, l.ID, l.OwnedCardID, l.SellerID, l.Price, string(l.Status), l.CreatedAt, l.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrAlreadyListed
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

const listingColumns = `id, owned_card_id, seller_id, price, status, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (*domain.Listing, error) {
	var (
		l      domain.Listing
		status string
	)
	if err := row.Scan(&l.ID, &l.OwnedCardID, &l.SellerID, &l.Price, &status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = domain.ListingStatus(status)
	return &l, nil
}

func (r *repository) CancelListing(ctx context.Context, sellerID, listingID string, at time.Time) (*domain.Listing, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	l, err := scanListing(tx.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != domain.ListingActive {
		return nil, ErrListingNotActive
	}
	if _, err := tx.ExecContext(ctx, `UPDATE listings SET status = $2, updated_at = $3 WHERE id = $1`, listingID, string(domain.ListingCancelled), at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	l.Status = domain.ListingCancelled
	l.UpdatedAt = at
	return l, nil
}

func (r *repository) ActiveListings(ctx context.Context, limit int) ([]domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE status = 'active' ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
