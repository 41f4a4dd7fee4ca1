// Package economy records daily gold and card-count snapshots per user.
package economy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/obslog"
)

// UserLister is the slice of the user repository the job reads.
type UserLister interface {
	List(ctx context.Context) ([]domain.User, error)
}

type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, s domain.EconomySnapshot) error
}

// Report summarises one run.
type Report struct {
	TakenAt time.Time `json:"takenAt"`
	Users   int       `json:"users"`
	Written int       `json:"written"`
	Failed  int       `json:"failed"`
}

// Job takes one snapshot per user. A failed row is logged and skipped; the
// run only fails when the user list itself cannot be read.
type Job struct {
	users  UserLister
	writer SnapshotWriter
	now    func() time.Time
}

func NewJob(users UserLister, writer SnapshotWriter) *Job {
	return &Job{users: users, writer: writer, now: time.Now}
}

func (j *Job) Run(ctx context.Context) (Report, error) {
	takenAt := j.now().UTC().Truncate(time.Second)
	rep := Report{TakenAt: takenAt}
	list, err := j.users.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list users: %w", err)
	}
	rep.Users = len(list)
	for _, u := range list {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		snap := domain.EconomySnapshot{UserID: u.ID, Gold: u.Gold, CardCount: u.CardCount, TakenAt: takenAt}
		if err := j.writer.InsertSnapshot(ctx, snap); err != nil {
			rep.Failed++
			obslog.L().Warn("economy_snapshot_row_failed", zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		rep.Written++
	}
	obslog.L().Info("economy_snapshot_done",
		zap.Time("taken_at", takenAt),
		zap.Int("users", rep.Users),
		zap.Int("written", rep.Written),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

// Repository writes snapshots to Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) InsertSnapshot(ctx context.Context, s domain.EconomySnapshot) error {
	const q = `INSERT INTO economy_snapshots (user_id, gold, card_count, taken_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, q, s.UserID, s.Gold, s.CardCount, s.TakenAt)
	return err
}

// History returns a user's snapshots since the given time, oldest first.
func (r *Repository) History(ctx context.Context, userID string, since time.Time) ([]domain.EconomySnapshot, error) {
	const q = `
		SELECT user_id, gold, card_count, taken_at
		FROM economy_snapshots
		WHERE user_id = $1 AND taken_at >= $2
		ORDER BY taken_at`
	rows, err := r.db.QueryContext(ctx, q, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EconomySnapshot
	for rows.Next() {
		var s domain.EconomySnapshot
		if err := rows.Scan(&s.UserID, &s.Gold, &s.CardCount, &s.TakenAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
