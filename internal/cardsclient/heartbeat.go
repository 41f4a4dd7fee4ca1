package cardsclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/obslog"
)

// DefaultHeartbeat keeps a seat well inside the server's staleness threshold.
const DefaultHeartbeat = 4 * time.Second

// Heartbeat reports presence for battleID every interval until ctx ends or
// the battle completes. Failed beats are logged and retried on the next tick.
func (c *Client) Heartbeat(ctx context.Context, battleID string, every time.Duration) error {
	if every <= 0 {
		every = DefaultHeartbeat
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		b, err := c.UpdatePresence(ctx, battleID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			code := StatusOf(err)
			if code == 401 || code == 403 || code == 404 {
				return err
			}
			obslog.Battle(battleID).Warn("cards_heartbeat_failed", zap.Error(err))
		case b.Status == battle.StatusCompleted:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
