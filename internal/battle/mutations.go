package battle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/effects"
	"github.com/park285/cards-of-power/internal/obslog"
)

type PlayCardArgs struct {
	BattleID       string          `json:"battleId"`
	FromHandIndex  int             `json:"fromHandIndex"`
	ToSlotIndex    int             `json:"toSlotIndex"`
	Position       domain.Position `json:"position,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// GraveSource names where sendToGraveyard takes the card from.
type GraveSource string

const (
	FromField GraveSource = "field"
	FromHand  GraveSource = "hand"
)

type GraveyardArgs struct {
	BattleID       string      `json:"battleId"`
	Source         GraveSource `json:"source,omitempty"`
	Index          int         `json:"index"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

type HPArgs struct {
	BattleID       string `json:"battleId"`
	TargetUserID   string `json:"targetUserId"`
	Delta          int    `json:"delta"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// action edits the document for the seated caller. Returning an error
// discards every change it made.
type action func(b *Battle, me, foe *PlayerState, now time.Time) (*effects.Result, error)

// mutate runs one player action in a single transaction: lazy policies,
// seat check, idempotent replay, status check, then the action itself.
func (m *Manager) mutate(ctx context.Context, p Player, battleID, key, event string, act action) (*ActionResult, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	key = strings.TrimSpace(key)

	var (
		before Status
		res    *ActionResult
	)
	b, committed, err := m.store.Update(ctx, battleID, func(b *Battle) (bool, error) {
		res = nil
		before = b.Status
		changed := m.catchUp(ctx, b)

		me := b.Seat(p.ID)
		if me == nil {
			return changed, ErrNotSeated
		}
		if key != "" && key == b.LastActionIdempotencyKey {
			res = &ActionResult{Effect: b.LastActionEffect, Replayed: true}
			return changed, nil
		}
		if b.Status != StatusActive {
			return changed, ErrNotActive
		}

		snap := b.clone()
		now := m.now()
		eff, err := act(b, me, b.Other(p.ID), now)
		if err != nil {
			if snap != nil {
				*b = *snap
			}
			return changed, err
		}
		if key != "" {
			b.LastActionIdempotencyKey = key
			b.LastActionEffect = eff
		}
		// acting counts as being present
		me.LastSeenAt = &now
		me.RejoinDeadline = nil
		b.UpdatedAt = now
		res = &ActionResult{Effect: eff}
		return true, nil
	})
	if committed {
		m.afterCommit(ctx, before, b)
	}
	if err != nil {
		obslog.Battle(battleID).Debug(event+"_rejected", zap.String("user_id", p.ID), zap.Error(err))
		return nil, err
	}
	res.Battle = b.ViewFor(p.ID)
	if !res.Replayed {
		obslog.Battle(b.ID).Info(event,
			zap.String("user_id", p.ID),
			zap.Int("turn", b.TurnNumber),
			zap.Int64("version", b.Version),
			zap.String("status", string(b.Status)),
		)
	}
	return res, nil
}

// PlayCard moves a card from the caller's hand to an empty field slot and
// resolves its effect, if it has one.
func (m *Manager) PlayCard(ctx context.Context, p Player, a PlayCardArgs) (*ActionResult, error) {
	if a.Position != "" && !a.Position.Valid() {
		return nil, ErrBadPosition
	}
	return m.mutate(ctx, p, a.BattleID, a.IdempotencyKey, "battle_play_card", func(b *Battle, me, foe *PlayerState, now time.Time) (*effects.Result, error) {
		if b.CurrentTurnPlayerID != me.UserID {
			return nil, ErrNotYourTurn
		}
		if b.Preparation.IsActive {
			return nil, ErrPreparation
		}
		if a.FromHandIndex < 0 || a.FromHandIndex >= len(me.Hand) {
			return nil, ErrHandIndex
		}
		if a.ToSlotIndex < 0 || a.ToSlotIndex >= FieldSize {
			return nil, ErrSlotIndex
		}
		if me.Field[a.ToSlotIndex] != nil {
			return nil, ErrSlotOccupied
		}

		card := me.Hand[a.FromHandIndex]
		me.Hand = append(me.Hand[:a.FromHandIndex:a.FromHandIndex], me.Hand[a.FromHandIndex+1:]...)
		card.Position = a.Position
		if card.Position == "" && card.Type == domain.CardMonster {
			card.Position = domain.PositionAttack
		}
		me.Field[a.ToSlotIndex] = &card

		data := map[string]any{"Player": me.Name, "Card": card.Name, "Slot": a.ToSlotIndex, "Position": string(card.Position)}
		if a.Position != "" {
			b.addLog(now, me.UserID, m.text("battle.play_set", data))
		} else {
			b.addLog(now, me.UserID, m.text("battle.play", data))
		}

		if !m.hasEffect(card) {
			return nil, nil
		}
		eff, err := m.effects.Dispatch(card.Type, card.Name, effects.Context{Player: me.Name, Opponent: foe.Name})
		if err != nil {
			return nil, err
		}
		for _, line := range eff.LogLines {
			b.addLog(now, me.UserID, line)
		}
		m.applyEffect(b, me, foe, me.Field[a.ToSlotIndex], eff, now)
		return eff, nil
	})
}

// hasEffect is true for cards with a table entry and for templates that
// declare one; the latter fail loudly in Dispatch if the entry is missing.
func (m *Manager) hasEffect(card domain.CardRef) bool {
	if m.effects.Has(card.Type, card.Name) {
		return true
	}
	if m.cards == nil {
		return false
	}
	t, ok := m.cards.Get(card.TemplateID)
	return ok && t.Effect
}

func (m *Manager) applyEffect(b *Battle, me, foe *PlayerState, played *domain.CardRef, eff *effects.Result, now time.Time) {
	if eff.Damage > 0 {
		foe.HP = clampHP(foe.HP-eff.Damage, foe.MaxHP)
	}
	if eff.Healing > 0 {
		me.HP = clampHP(me.HP+eff.Healing, me.MaxHP)
	}
	if eff.AttackBoost > 0 && played != nil {
		played.AttackBoost += eff.AttackBoost
	}
	if eff.Draw > 0 {
		me.draw(eff.Draw)
	}
	if foe.HP == 0 {
		m.complete(b, me, EndHP, now)
	}
}

// SendToGraveyard discards one of the caller's cards, from the field by default.
func (m *Manager) SendToGraveyard(ctx context.Context, p Player, a GraveyardArgs) (*ActionResult, error) {
	src := a.Source
	if src == "" {
		src = FromField
	}
	if src != FromField && src != FromHand {
		return nil, ErrBadSource
	}
	return m.mutate(ctx, p, a.BattleID, a.IdempotencyKey, "battle_graveyard", func(b *Battle, me, _ *PlayerState, now time.Time) (*effects.Result, error) {
		var card domain.CardRef
		switch src {
		case FromField:
			if a.Index < 0 || a.Index >= FieldSize {
				return nil, ErrSlotIndex
			}
			if me.Field[a.Index] == nil {
				return nil, ErrSlotEmpty
			}
			card = *me.Field[a.Index]
			me.Field[a.Index] = nil
		case FromHand:
			if a.Index < 0 || a.Index >= len(me.Hand) {
				return nil, ErrHandIndex
			}
			card = me.Hand[a.Index]
			me.Hand = append(me.Hand[:a.Index:a.Index], me.Hand[a.Index+1:]...)
		}
		card.Position = ""
		card.AttackBoost = 0
		me.Graveyard = append(me.Graveyard, card)
		b.addLog(now, me.UserID, m.text("battle.graveyard", map[string]any{"Player": me.Name, "Card": card.Name}))
		return nil, nil
	})
}

// DrawCard moves the top of the caller's draw pile into their hand.
func (m *Manager) DrawCard(ctx context.Context, p Player, battleID, key string) (*ActionResult, error) {
	return m.mutate(ctx, p, battleID, key, "battle_draw", func(b *Battle, me, _ *PlayerState, now time.Time) (*effects.Result, error) {
		if len(me.Deck) == 0 {
			return nil, ErrDeckEmpty
		}
		me.draw(1)
		b.addLog(now, me.UserID, m.text("battle.draw", map[string]any{"Player": me.Name}))
		return nil, nil
	})
}

// EndTurn passes the turn to the other seat and restarts the clock.
func (m *Manager) EndTurn(ctx context.Context, p Player, battleID, key string) (*ActionResult, error) {
	return m.mutate(ctx, p, battleID, key, "battle_end_turn", func(b *Battle, me, _ *PlayerState, now time.Time) (*effects.Result, error) {
		if b.CurrentTurnPlayerID != me.UserID {
			return nil, ErrNotYourTurn
		}
		if b.Preparation.IsActive {
			return nil, ErrPreparation
		}
		b.addLog(now, me.UserID, m.text("battle.end_turn", map[string]any{"Player": me.Name, "Turn": b.TurnNumber}))
		b.passTurn()
		ends := now.Add(b.turnDuration())
		b.TurnEndsAt = &ends
		return nil, nil
	})
}

// UpdateHP applies a signed delta to a seated player's HP, clamped to
// [0, maxHp]. Reaching zero ends the battle in favour of the other seat.
func (m *Manager) UpdateHP(ctx context.Context, p Player, a HPArgs) (*ActionResult, error) {
	if a.Delta == 0 || a.Delta > maxHPDelta || a.Delta < -maxHPDelta {
		return nil, ErrBadDelta
	}
	return m.mutate(ctx, p, a.BattleID, a.IdempotencyKey, "battle_update_hp", func(b *Battle, me, _ *PlayerState, now time.Time) (*effects.Result, error) {
		target := me
		if id := strings.TrimSpace(a.TargetUserID); id != "" {
			target = b.Seat(id)
		}
		if target == nil {
			return nil, ErrUnknownTarget
		}
		from := target.HP
		target.HP = clampHP(target.HP+a.Delta, target.MaxHP)
		b.addLog(now, me.UserID, m.text("battle.hp", map[string]any{"Player": target.Name, "From": from, "To": target.HP}))
		if target.HP == 0 {
			m.complete(b, b.Other(target.UserID), EndHP, now)
		}
		return nil, nil
	})
}

// SetReady marks the caller ready. When both seats are ready the
// preparation window closes early and the first turn clock starts.
func (m *Manager) SetReady(ctx context.Context, p Player, battleID, key string) (*ActionResult, error) {
	return m.mutate(ctx, p, battleID, key, "battle_ready", func(b *Battle, me, _ *PlayerState, now time.Time) (*effects.Result, error) {
		prep := &b.Preparation
		if !prep.IsActive {
			return nil, ErrNoPreparation
		}
		if me.UserID == b.HostID {
			prep.HostReady = true
		} else {
			prep.OpponentReady = true
		}
		b.addLog(now, me.UserID, m.text("battle.ready", map[string]any{"Player": me.Name}))
		if prep.HostReady && prep.OpponentReady {
			prep.IsActive = false
			prep.EndsAt = &now
			ends := now.Add(b.turnDuration())
			b.TurnEndsAt = &ends
			b.addLog(now, "", m.text("battle.preparation_over", nil))
		}
		return nil, nil
	})
}

// Surrender concedes the battle to the other seat.
func (m *Manager) Surrender(ctx context.Context, p Player, battleID, key string) (*ActionResult, error) {
	return m.mutate(ctx, p, battleID, key, "battle_surrender", func(b *Battle, me, foe *PlayerState, now time.Time) (*effects.Result, error) {
		b.addLog(now, me.UserID, m.text("battle.surrender", map[string]any{"Player": me.Name}))
		m.complete(b, foe, EndSurrender, now)
		return nil, nil
	})
}

// UpdatePresence is the client heartbeat. The presence key is refreshed on
// every call; the document itself is only written when the seat's
// lastSeenAt is half a stale period old or a rejoin deadline must go.
func (m *Manager) UpdatePresence(ctx context.Context, p Player, battleID string) (*Battle, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	var before Status
	b, committed, err := m.store.Update(ctx, battleID, func(b *Battle) (bool, error) {
		before = b.Status
		changed := m.catchUp(ctx, b)
		me := b.Seat(p.ID)
		if me == nil {
			return changed, ErrNotSeated
		}
		if b.Status == StatusCompleted {
			return changed, nil
		}
		now := m.now()
		if me.RejoinDeadline == nil && me.LastSeenAt != nil && now.Sub(*me.LastSeenAt) < m.opts.PresenceStaleAfter/2 {
			return changed, nil
		}
		me.LastSeenAt = &now
		me.RejoinDeadline = nil
		b.UpdatedAt = now
		return true, nil
	})
	if committed {
		m.afterCommit(ctx, before, b)
	}
	if err != nil {
		return nil, err
	}
	if b.Status != StatusCompleted {
		if err := m.store.TouchPresence(ctx, battleID, p.ID, m.now(), 3*m.opts.PresenceStaleAfter); err != nil {
			obslog.Battle(battleID).Warn("battle_presence_write_failed", zap.String("user_id", p.ID), zap.Error(err))
		}
	}
	return b.ViewFor(p.ID), nil
}

func clampHP(hp, maxHP int) int {
	if hp < 0 {
		return 0
	}
	if hp > maxHP {
		return maxHP
	}
	return hp
}
