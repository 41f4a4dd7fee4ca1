package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/apperr"
	"github.com/park285/cards-of-power/internal/auth"
	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/obslog"
)

const maxArgsBytes = 64 << 10

var (
	ErrUnknownFunction = apperr.New(apperr.NotFound, "unknown function")
	ErrBadArguments    = apperr.New(apperr.Invalid, "malformed arguments")
	ErrNoHistory       = apperr.New(apperr.NotImplemented, "battle history is not available")
	ErrNoEconomy       = apperr.New(apperr.NotImplemented, "economy history is not available")
	ErrAdminOnly       = apperr.New(apperr.Forbidden, "admin only")
)

const (
	defaultEconomyDays = 30
	maxEconomyDays     = 365
)

type handlerFunc func(ctx context.Context, id auth.Identity, args json.RawMessage) (any, error)

func (s *Server) handleRPC(table map[string]handlerFunc, mutation bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		fn, ok := table[name]
		if !ok {
			writeError(w, fmt.Errorf("%w: %s", ErrUnknownFunction, name))
			return
		}
		id, err := s.tokens.FromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if mutation && !s.limiter.Allow(id.UserID) {
			writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: "too many requests"})
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes))
		if err != nil {
			writeError(w, ErrBadArguments)
			return
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = []byte("{}")
		}
		s.ensureUser(r.Context(), id)

		val, err := fn(r.Context(), id, raw)
		if err != nil {
			if statusFor(err) >= http.StatusInternalServerError {
				obslog.L().Error("rpc_failed", zap.String("fn", name), zap.String("user_id", id.UserID), zap.Error(err))
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, valueEnvelope{Value: val})
	}
}

// ensureUser creates the account row the first time a token is seen, in
// case the provider webhook has not arrived yet.
func (s *Server) ensureUser(ctx context.Context, id auth.Identity) {
	if s.users == nil {
		return
	}
	if _, seen := s.known.Load(id.UserID); seen {
		return
	}
	if err := s.users.EnsureUser(ctx, id.UserID, id.Name); err != nil {
		obslog.L().Warn("rpc_ensure_user_failed", zap.String("user_id", id.UserID), zap.Error(err))
		return
	}
	s.known.Store(id.UserID, struct{}{})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return v, nil
}

// typed adapts a function with a concrete argument struct to a handlerFunc.
func typed[T any](fn func(ctx context.Context, p battle.Player, args T) (any, error)) handlerFunc {
	return func(ctx context.Context, id auth.Identity, raw json.RawMessage) (any, error) {
		args, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, battle.Player{ID: id.UserID, Name: id.Name}, args)
	}
}

type battleArgs struct {
	BattleID       string `json:"battleId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type createArgs struct {
	TurnDurationSec int `json:"turnDurationSec"`
}

type limitArgs struct {
	Limit int `json:"limit,omitempty"`
}

type listingArgs struct {
	OwnedCardID string `json:"ownedCardId"`
	Price       int64  `json:"price"`
}

type cancelListingArgs struct {
	ListingID string `json:"listingId"`
}

type economyArgs struct {
	SinceDays int `json:"sinceDays,omitempty"`
}

type grantArgs struct {
	UserID     string `json:"userId"`
	TemplateID string `json:"templateId"`
	Quantity   int    `json:"quantity"`
}

func (s *Server) registerHandlers() {
	s.queries = map[string]handlerFunc{
		"getBattle": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.GetBattle(ctx, p, a.BattleID)
		}),
		"listJoinableBattles": typed(func(ctx context.Context, p battle.Player, _ struct{}) (any, error) {
			rooms, err := s.battles.ListJoinable(ctx, p)
			if rooms == nil {
				rooms = []battle.Room{}
			}
			return rooms, err
		}),
		"battleHistory": typed(func(ctx context.Context, p battle.Player, a limitArgs) (any, error) {
			if s.history == nil {
				return nil, ErrNoHistory
			}
			return s.history.History(ctx, p.ID, a.Limit)
		}),
		"economyHistory": typed(func(ctx context.Context, p battle.Player, a economyArgs) (any, error) {
			if s.economy == nil {
				return nil, ErrNoEconomy
			}
			days := a.SinceDays
			if days <= 0 {
				days = defaultEconomyDays
			}
			days = min(days, maxEconomyDays)
			snaps, err := s.economy.History(ctx, p.ID, s.now().UTC().AddDate(0, 0, -days))
			if snaps == nil {
				snaps = []domain.EconomySnapshot{}
			}
			return snaps, err
		}),
		"cardCatalog": typed(func(context.Context, battle.Player, struct{}) (any, error) {
			return s.cards.All(), nil
		}),
		"me": typed(func(ctx context.Context, p battle.Player, _ struct{}) (any, error) {
			return s.users.Profile(ctx, p.ID)
		}),
		"inventory": typed(func(ctx context.Context, p battle.Player, _ struct{}) (any, error) {
			return s.users.Inventory(ctx, p.ID)
		}),
		"listings": typed(func(ctx context.Context, _ battle.Player, a limitArgs) (any, error) {
			return s.users.Listings(ctx, a.Limit)
		}),
	}

	s.mutations = map[string]handlerFunc{
		"createBattle": typed(func(ctx context.Context, p battle.Player, a createArgs) (any, error) {
			b, err := s.battles.CreateBattle(ctx, p, a.TurnDurationSec)
			if err != nil {
				return nil, err
			}
			return map[string]string{"battleId": b.ID}, nil
		}),
		"joinBattle": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.JoinBattle(ctx, p, a.BattleID)
		}),
		"playCard": typed(func(ctx context.Context, p battle.Player, a battle.PlayCardArgs) (any, error) {
			return s.battles.PlayCard(ctx, p, a)
		}),
		"sendToGraveyard": typed(func(ctx context.Context, p battle.Player, a battle.GraveyardArgs) (any, error) {
			return s.battles.SendToGraveyard(ctx, p, a)
		}),
		"drawCard": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.DrawCard(ctx, p, a.BattleID, a.IdempotencyKey)
		}),
		"endTurn": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.EndTurn(ctx, p, a.BattleID, a.IdempotencyKey)
		}),
		"updateHp": typed(func(ctx context.Context, p battle.Player, a battle.HPArgs) (any, error) {
			return s.battles.UpdateHP(ctx, p, a)
		}),
		"setReady": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.SetReady(ctx, p, a.BattleID, a.IdempotencyKey)
		}),
		"surrender": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.Surrender(ctx, p, a.BattleID, a.IdempotencyKey)
		}),
		"updatePresence": typed(func(ctx context.Context, p battle.Player, a battleArgs) (any, error) {
			return s.battles.UpdatePresence(ctx, p, a.BattleID)
		}),
		"claimStarterPack": typed(func(ctx context.Context, p battle.Player, _ struct{}) (any, error) {
			return s.users.ClaimStarterPack(ctx, p.ID)
		}),
		"createListing": typed(func(ctx context.Context, p battle.Player, a listingArgs) (any, error) {
			return s.users.CreateListing(ctx, p.ID, a.OwnedCardID, a.Price)
		}),
		"cancelListing": typed(func(ctx context.Context, p battle.Player, a cancelListingArgs) (any, error) {
			return s.users.CancelListing(ctx, p.ID, a.ListingID)
		}),
		"grantCard": typed(func(ctx context.Context, p battle.Player, a grantArgs) (any, error) {
			if !s.admins[p.ID] {
				return nil, ErrAdminOnly
			}
			if a.UserID == "" {
				return nil, fmt.Errorf("%w: userId is required", ErrBadArguments)
			}
			oc, err := s.users.Grant(ctx, a.UserID, a.TemplateID, a.Quantity)
			if err != nil {
				return nil, err
			}
			obslog.L().Info("rpc_grant_card",
				zap.String("admin_id", p.ID),
				zap.String("user_id", a.UserID),
				zap.String("template_id", a.TemplateID),
				zap.Int("quantity", a.Quantity),
			)
			return oc, nil
		}),
	}
}
