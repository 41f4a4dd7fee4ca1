package cardsclient

import (
	"context"

	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/domain"
)

type battleRef struct {
	BattleID       string `json:"battleId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (a battleRef) idempotent() bool { return a.IdempotencyKey != "" }

type playCard battle.PlayCardArgs

func (a playCard) idempotent() bool { return a.IdempotencyKey != "" }

type graveyard battle.GraveyardArgs

func (a graveyard) idempotent() bool { return a.IdempotencyKey != "" }

type updateHP battle.HPArgs

func (a updateHP) idempotent() bool { return a.IdempotencyKey != "" }

// CreateBattle opens a waiting room and returns its id. Zero means the
// server's default turn duration.
func (c *Client) CreateBattle(ctx context.Context, turnDurationSec int) (string, error) {
	var out struct {
		BattleID string `json:"battleId"`
	}
	args := struct {
		TurnDurationSec int `json:"turnDurationSec"`
	}{turnDurationSec}
	if err := c.Mutation(ctx, "createBattle", args, &out); err != nil {
		return "", err
	}
	return out.BattleID, nil
}

func (c *Client) JoinBattle(ctx context.Context, battleID string) (*battle.Battle, error) {
	var b battle.Battle
	if err := c.Mutation(ctx, "joinBattle", battleRef{BattleID: battleID}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBattle(ctx context.Context, battleID string) (*battle.Battle, error) {
	var b battle.Battle
	if err := c.Query(ctx, "getBattle", battleRef{BattleID: battleID}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) ListJoinable(ctx context.Context) ([]battle.Room, error) {
	var rooms []battle.Room
	if err := c.Query(ctx, "listJoinableBattles", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) PlayCard(ctx context.Context, a battle.PlayCardArgs) (*battle.ActionResult, error) {
	return c.action(ctx, "playCard", playCard(a))
}

func (c *Client) SendToGraveyard(ctx context.Context, a battle.GraveyardArgs) (*battle.ActionResult, error) {
	return c.action(ctx, "sendToGraveyard", graveyard(a))
}

func (c *Client) DrawCard(ctx context.Context, battleID, key string) (*battle.ActionResult, error) {
	return c.action(ctx, "drawCard", battleRef{BattleID: battleID, IdempotencyKey: key})
}

func (c *Client) EndTurn(ctx context.Context, battleID, key string) (*battle.ActionResult, error) {
	return c.action(ctx, "endTurn", battleRef{BattleID: battleID, IdempotencyKey: key})
}

func (c *Client) UpdateHP(ctx context.Context, a battle.HPArgs) (*battle.ActionResult, error) {
	return c.action(ctx, "updateHp", updateHP(a))
}

func (c *Client) SetReady(ctx context.Context, battleID, key string) (*battle.ActionResult, error) {
	return c.action(ctx, "setReady", battleRef{BattleID: battleID, IdempotencyKey: key})
}

func (c *Client) Surrender(ctx context.Context, battleID, key string) (*battle.ActionResult, error) {
	return c.action(ctx, "surrender", battleRef{BattleID: battleID, IdempotencyKey: key})
}

// UpdatePresence marks the caller as connected to the battle.
func (c *Client) UpdatePresence(ctx context.Context, battleID string) (*battle.Battle, error) {
	var b battle.Battle
	if err := c.Mutation(ctx, "updatePresence", battleRef{BattleID: battleID}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]battle.Summary, error) {
	var out []battle.Summary
	args := struct {
		Limit int `json:"limit,omitempty"`
	}{limit}
	if err := c.Query(ctx, "battleHistory", args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Catalog(ctx context.Context) ([]domain.CardTemplate, error) {
	var out []domain.CardTemplate
	if err := c.Query(ctx, "cardCatalog", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.Query(ctx, "me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Inventory(ctx context.Context) ([]domain.OwnedCard, error) {
	var out []domain.OwnedCard
	if err := c.Query(ctx, "inventory", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClaimStarterPack(ctx context.Context) ([]domain.OwnedCard, error) {
	var out []domain.OwnedCard
	if err := c.Mutation(ctx, "claimStarterPack", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EconomyHistory returns the caller's daily snapshots for the last sinceDays
// days; zero uses the server default.
func (c *Client) EconomyHistory(ctx context.Context, sinceDays int) ([]domain.EconomySnapshot, error) {
	var out []domain.EconomySnapshot
	args := struct {
		SinceDays int `json:"sinceDays,omitempty"`
	}{sinceDays}
	if err := c.Query(ctx, "economyHistory", args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Grant adds cards to another user's inventory. Admin tokens only; never
// retried since a replay would grant twice.
func (c *Client) Grant(ctx context.Context, userID, templateID string, quantity int) (*domain.OwnedCard, error) {
	var oc domain.OwnedCard
	args := struct {
		UserID     string `json:"userId"`
		TemplateID string `json:"templateId"`
		Quantity   int    `json:"quantity"`
	}{userID, templateID, quantity}
	if err := c.Mutation(ctx, "grantCard", args, &oc); err != nil {
		return nil, err
	}
	return &oc, nil
}

func (c *Client) action(ctx context.Context, name string, args any) (*battle.ActionResult, error) {
	var res battle.ActionResult
	if err := c.Mutation(ctx, name, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
