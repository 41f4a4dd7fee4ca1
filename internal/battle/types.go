package battle

import (
	"encoding/json"
	"time"

	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/effects"
)

// Status is the battle lifecycle: waiting -> active -> completed.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// EndReason records why a battle completed.
type EndReason string

const (
	EndHP        EndReason = "hp"
	EndForfeit   EndReason = "forfeit"
	EndSurrender EndReason = "surrender"
)

// FieldSize is the number of field slots per seat.
const FieldSize = 5

const maxLogEntries = 200

// Preparation gates card plays before the first turn.
type Preparation struct {
	IsActive      bool       `json:"isActive"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	HostReady     bool       `json:"hostReady"`
	OpponentReady bool       `json:"opponentReady"`
}

// PlayerState is one seat. playerA is always the host.
type PlayerState struct {
	UserID    string                     `json:"userId"`
	Name      string                     `json:"name"`
	HP        int                        `json:"hp"`
	MaxHP     int                        `json:"maxHp"`
	Hand      []domain.CardRef           `json:"hand"`
	// HandCount stays set when a view hides the hand from the other seat.
	HandCount int `json:"handCount"`
	Field     [FieldSize]*domain.CardRef `json:"field"`
	Graveyard []domain.CardRef           `json:"graveyard"`
	// Deck is the draw pile, top card last. Views replace it with DeckCount.
	Deck      []domain.CardRef `json:"deck,omitempty"`
	DeckCount int              `json:"deckCount"`

	RejoinDeadline *time.Time `json:"rejoinDeadline,omitempty"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty"`
}

// LogEntry is one line of the battle log.
type LogEntry struct {
	At       time.Time `json:"at"`
	Turn     int       `json:"turn"`
	PlayerID string    `json:"playerId,omitempty"`
	Text     string    `json:"text"`
}

// Battle is the persisted match document under battle:<id>.
type Battle struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	HostID              string     `json:"hostId"`
	OpponentID          string     `json:"opponentId,omitempty"`
	CurrentTurnPlayerID string     `json:"currentTurnPlayerId,omitempty"`
	TurnNumber          int        `json:"turnNumber"`
	TurnEndsAt          *time.Time `json:"turnEndsAt,omitempty"`
	TurnDurationSec     int        `json:"turnDurationSec"`

	Preparation Preparation `json:"preparation"`
	PlayerA     PlayerState `json:"playerA"`
	PlayerB     PlayerState `json:"playerB"`

	LastActionIdempotencyKey string          `json:"lastActionIdempotencyKey,omitempty"`
	LastActionEffect         *effects.Result `json:"lastActionEffect,omitempty"`

	WinnerID    string     `json:"winnerId,omitempty"`
	EndReason   EndReason  `json:"endReason,omitempty"`
	Log         []LogEntry `json:"log"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Version     int64      `json:"version"`
}

// Player is the authenticated caller of an operation.
type Player struct {
	ID   string
	Name string
}

// ActionResult is returned by every mutation. A replayed idempotency key
// returns the stored effect and Replayed=true without touching the document.
type ActionResult struct {
	Battle   *Battle         `json:"battle"`
	Effect   *effects.Result `json:"effect,omitempty"`
	Replayed bool            `json:"replayed"`
}

// RoomMode tells the lobby how a listed battle can be entered.
type RoomMode string

const (
	ModeJoin   RoomMode = "join"
	ModeRejoin RoomMode = "rejoin"
)

type Room struct {
	Battle *Battle  `json:"battle"`
	Mode   RoomMode `json:"mode"`
}

// Seat returns the seat held by userID, or nil.
func (b *Battle) Seat(userID string) *PlayerState {
	switch {
	case userID == "":
		return nil
	case b.PlayerA.UserID == userID:
		return &b.PlayerA
	case b.PlayerB.UserID == userID:
		return &b.PlayerB
	}
	return nil
}

// Other returns the seat facing userID, or nil when userID is not seated.
func (b *Battle) Other(userID string) *PlayerState {
	switch {
	case userID == "":
		return nil
	case b.PlayerA.UserID == userID:
		return &b.PlayerB
	case b.PlayerB.UserID == userID:
		return &b.PlayerA
	}
	return nil
}

func (b *Battle) IsSeated(userID string) bool { return b.Seat(userID) != nil }

func (b *Battle) seats() []*PlayerState {
	if b.PlayerB.UserID == "" {
		return []*PlayerState{&b.PlayerA}
	}
	return []*PlayerState{&b.PlayerA, &b.PlayerB}
}

func (b *Battle) addLog(now time.Time, playerID, text string) {
	b.Log = append(b.Log, LogEntry{At: now, Turn: b.TurnNumber, PlayerID: playerID, Text: text})
	if n := len(b.Log); n > maxLogEntries {
		b.Log = append([]LogEntry(nil), b.Log[n-maxLogEntries:]...)
	}
}

func (b *Battle) clone() *Battle {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	var c Battle
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

// View returns a copy with draw piles reduced to counts. Both hands are
// still present; clients get ViewFor.
func (b *Battle) View() *Battle {
	v := b.clone()
	if v == nil {
		return nil
	}
	for _, s := range []*PlayerState{&v.PlayerA, &v.PlayerB} {
		s.DeckCount = len(s.Deck)
		s.Deck = nil
		s.HandCount = len(s.Hand)
	}
	return v
}

// ViewFor is View as seen by viewerID: every hand but the viewer's own is
// reduced to its count.
func (b *Battle) ViewFor(viewerID string) *Battle {
	v := b.View()
	if v == nil {
		return nil
	}
	v.hideHands(viewerID)
	return v
}

func (b *Battle) hideHands(viewerID string) {
	for _, s := range []*PlayerState{&b.PlayerA, &b.PlayerB} {
		if s.UserID == "" || s.UserID != viewerID {
			s.HandCount = len(s.Hand)
			s.Hand = []domain.CardRef{}
		}
	}
}
