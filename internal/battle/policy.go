package battle

import (
	"time"
)

// Timers and presence are not driven by a background job. Every read or
// write of a battle first runs applyPolicies, which catches the document up
// with the wall clock:
//
//   - an elapsed preparation window closes;
//   - a seat silent for longer than PresenceStaleAfter gets a rejoin
//     deadline, and a seat that is heard from again loses it;
//   - a seat past its rejoin deadline forfeits;
//   - an expired turn passes to the other seat, once per elapsed turn,
//     when EnforceTurnTimer is on.
func (m *Manager) applyPolicies(b *Battle, now time.Time, seen map[string]time.Time) bool {
	if b.Status != StatusActive {
		return false
	}
	changed := m.closePreparation(b, now)
	if m.trackPresence(b, now, seen) {
		changed = true
	}
	if m.forfeitAbsent(b, now) {
		return true
	}
	if m.expireTurns(b, now) {
		changed = true
	}
	return changed
}

func (m *Manager) closePreparation(b *Battle, now time.Time) bool {
	p := &b.Preparation
	if !p.IsActive || p.EndsAt == nil || now.Before(*p.EndsAt) {
		return false
	}
	p.IsActive = false
	ends := p.EndsAt.Add(b.turnDuration())
	b.TurnEndsAt = &ends
	b.addLog(*p.EndsAt, "", m.text("battle.preparation_over", nil))
	return true
}

func (m *Manager) trackPresence(b *Battle, now time.Time, seen map[string]time.Time) bool {
	changed := false
	for _, seat := range b.seats() {
		last := lastSeen(seat, seen)
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > m.opts.PresenceStaleAfter {
			if seat.RejoinDeadline == nil {
				d := last.Add(m.opts.RejoinWindow)
				seat.RejoinDeadline = &d
				changed = true
			}
			continue
		}
		if seat.RejoinDeadline != nil {
			seat.RejoinDeadline = nil
			changed = true
		}
	}
	return changed
}

// forfeitAbsent completes the battle against the seat whose rejoin deadline
// passed first.
func (m *Manager) forfeitAbsent(b *Battle, now time.Time) bool {
	var loser *PlayerState
	for _, seat := range b.seats() {
		d := seat.RejoinDeadline
		if d == nil || !now.After(*d) {
			continue
		}
		if loser == nil || d.Before(*loser.RejoinDeadline) {
			loser = seat
		}
	}
	if loser == nil {
		return false
	}
	winner := b.Other(loser.UserID)
	b.addLog(now, loser.UserID, m.text("battle.forfeit", map[string]any{"Player": loser.Name}))
	m.complete(b, winner, EndForfeit, now)
	return true
}

func (m *Manager) expireTurns(b *Battle, now time.Time) bool {
	if !m.opts.EnforceTurnTimer || b.Preparation.IsActive || b.TurnEndsAt == nil || !now.After(*b.TurnEndsAt) {
		return false
	}
	dur := b.turnDuration()
	deadline := *b.TurnEndsAt
	// a deadline equal to now has not passed yet
	for now.After(deadline) {
		owner := b.Seat(b.CurrentTurnPlayerID)
		name := ""
		if owner != nil {
			name = owner.Name
		}
		b.addLog(deadline, b.CurrentTurnPlayerID, m.text("battle.turn_expired", map[string]any{"Player": name, "Turn": b.TurnNumber}))
		b.passTurn()
		deadline = deadline.Add(dur)
	}
	b.TurnEndsAt = &deadline
	return true
}

func lastSeen(seat *PlayerState, seen map[string]time.Time) time.Time {
	var last time.Time
	if seat.LastSeenAt != nil {
		last = *seat.LastSeenAt
	}
	if t, ok := seen[seat.UserID]; ok && t.After(last) {
		last = t
	}
	return last
}

func (b *Battle) turnDuration() time.Duration {
	if b.TurnDurationSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TurnDurationSec) * time.Second
}

// passTurn hands the turn to the other seat and bumps the counter by one.
func (b *Battle) passTurn() {
	if next := b.Other(b.CurrentTurnPlayerID); next != nil && next.UserID != "" {
		b.CurrentTurnPlayerID = next.UserID
	}
	b.TurnNumber++
}

// complete is the only way into StatusCompleted.
func (m *Manager) complete(b *Battle, winner *PlayerState, reason EndReason, now time.Time) {
	if b.Status == StatusCompleted {
		return
	}
	b.Status = StatusCompleted
	b.EndReason = reason
	b.CompletedAt = &now
	b.TurnEndsAt = nil
	b.Preparation.IsActive = false
	for _, seat := range b.seats() {
		seat.RejoinDeadline = nil
	}
	if winner != nil {
		b.WinnerID = winner.UserID
		b.addLog(now, winner.UserID, m.text("battle.won", map[string]any{"Player": winner.Name}))
	}
}
