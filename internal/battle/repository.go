package battle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository archives completed battles in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// RecordResult upserts the final document; replays of the same battle
// overwrite the earlier row.
func (r *Repository) RecordResult(ctx context.Context, b *Battle) error {
	if r == nil || r.db == nil || b == nil {
		return nil
	}
	if b.Status != StatusCompleted {
		return fmt.Errorf("battle %s is not completed", b.ID)
	}
	doc, err := json.Marshal(b.View())
	if err != nil {
		return fmt.Errorf("marshal battle: %w", err)
	}
	ended := b.UpdatedAt
	if b.CompletedAt != nil {
		ended = *b.CompletedAt
	}
	duration := ended.Sub(b.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `
		INSERT INTO battles (
			id, host_id, opponent_id, winner_id, end_reason,
			turns, turn_duration_sec, host_hp, opponent_hp,
			document, started_at, ended_at, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			winner_id = EXCLUDED.winner_id,
			end_reason = EXCLUDED.end_reason,
			turns = EXCLUDED.turns,
			host_hp = EXCLUDED.host_hp,
			opponent_hp = EXCLUDED.opponent_hp,
			document = EXCLUDED.document,
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		b.ID, b.HostID, b.OpponentID, b.WinnerID, string(b.EndReason),
		b.TurnNumber, b.TurnDurationSec, b.PlayerA.HP, b.PlayerB.HP,
		doc, b.CreatedAt, ended, duration,
	)
	return err
}

// Summary is one archived battle as seen from the history query.
type Summary struct {
	ID         string    `json:"id"`
	HostID     string    `json:"hostId"`
	OpponentID string    `json:"opponentId"`
	WinnerID   string    `json:"winnerId"`
	EndReason  EndReason `json:"endReason"`
	Turns      int       `json:"turns"`
	EndedAt    time.Time `json:"endedAt"`
}

// History lists the most recent archived battles a user played in.
func (r *Repository) History(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("battle archive not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `
		SELECT id, host_id, opponent_id, winner_id, end_reason, turns, ended_at
		FROM battles
		WHERE host_id = $1 OR opponent_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s      Summary
			reason string
		)
		if err := rows.Scan(&s.ID, &s.HostID, &s.OpponentID, &s.WinnerID, &reason, &s.Turns, &s.EndedAt); err != nil {
			return nil, err
		}
		s.EndReason = EndReason(reason)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recorders fans a completed battle out to several recorders. Every
// recorder runs; the first error is returned.
type Recorders []ResultRecorder

func (rs Recorders) RecordResult(ctx context.Context, b *Battle) error {
	var first error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.RecordResult(ctx, b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
