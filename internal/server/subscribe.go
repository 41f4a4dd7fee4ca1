package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/obslog"
)

const (
	subscribeWriteTimeout = 5 * time.Second
	subscribePingEvery    = 20 * time.Second
)

// handleSubscribe upgrades to a websocket, sends the current view and then
// every committed version of the battle until it completes or the client leaves.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := s.tokens.FromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	battleID := r.PathValue("id")
	p := battle.Player{ID: id.UserID, Name: id.Name}

	initial, sub, err := s.battles.Subscribe(r.Context(), p, battleID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		obslog.Battle(battleID).Warn("subscribe_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	log := obslog.Battle(battleID).With(zap.String("user_id", id.UserID))
	log.Debug("subscribe_open")

	// Client frames are ignored; reading keeps control frames flowing.
	ctx := conn.CloseRead(r.Context())

	if err := writeFrame(ctx, conn, initial); err != nil {
		log.Debug("subscribe_write_failed", zap.Error(err))
		return
	}
	if initial.Status == battle.StatusCompleted {
		conn.Close(websocket.StatusNormalClosure, "battle completed")
		return
	}

	ping := time.NewTicker(subscribePingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("subscribe_closed")
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, subscribeWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("subscribe_ping_failed", zap.Error(err))
				return
			}
		case v, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription ended")
				return
			}
			if err := writeFrame(ctx, conn, v); err != nil {
				log.Debug("subscribe_write_failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, subscribeWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
