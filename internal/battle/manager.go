package battle

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/catalog"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/effects"
	"github.com/park285/cards-of-power/internal/msgcat"
	"github.com/park285/cards-of-power/internal/obslog"
)

const (
	MinTurnSec = 10
	MaxTurnSec = 600
	maxHPDelta = 1_000_000
)

// DeckSource supplies the template ids a player brings to a battle.
type DeckSource interface {
	DeckFor(ctx context.Context, userID string) ([]string, error)
}

// ResultRecorder is told about every battle that reaches completion.
type ResultRecorder interface {
	RecordResult(ctx context.Context, b *Battle) error
}

type Options struct {
	DefaultTurnSec     int
	PreparationWindow  time.Duration
	PresenceStaleAfter time.Duration
	RejoinWindow       time.Duration
	EnforceTurnTimer   bool
	StartingHP         int
	OpeningHand        int
	Now                func() time.Time
}

func (o *Options) normalize() {
	if o.DefaultTurnSec <= 0 {
		o.DefaultTurnSec = 30
	}
	if o.PresenceStaleAfter <= 0 {
		o.PresenceStaleAfter = 12 * time.Second
	}
	if o.RejoinWindow <= 0 {
		o.RejoinWindow = 60 * time.Second
	}
	if o.StartingHP <= 0 {
		o.StartingHP = 8000
	}
	if o.OpeningHand <= 0 {
		o.OpeningHand = 5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Manager struct {
	store    *Store
	effects  *effects.Dispatcher
	msgs     *msgcat.Catalog
	cards    *catalog.Catalog
	decks    DeckSource
	recorder ResultRecorder
	opts     Options
}

func NewManager(store *Store, cards *catalog.Catalog, fx *effects.Dispatcher, msgs *msgcat.Catalog, opts Options) *Manager {
	opts.normalize()
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	if fx == nil {
		fx = effects.NewDispatcher(msgs)
	}
	return &Manager{store: store, effects: fx, msgs: msgs, cards: cards, opts: opts}
}

// AttachDeckSource wires the inventory used to build draw piles.
func (m *Manager) AttachDeckSource(d DeckSource) {
	if m != nil {
		m.decks = d
	}
}

// AttachRecorder wires the follow-up run after a battle completes.
func (m *Manager) AttachRecorder(r ResultRecorder) {
	if m != nil {
		m.recorder = r
	}
}

func (m *Manager) now() time.Time { return m.opts.Now().UTC() }

func (m *Manager) text(key string, data any) string { return m.msgs.Text(key, data) }

// CreateBattle opens a waiting room hosted by p. A zero duration means the
// configured default.
func (m *Manager) CreateBattle(ctx context.Context, p Player, turnDurationSec int) (*Battle, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	if turnDurationSec == 0 {
		turnDurationSec = m.opts.DefaultTurnSec
	}
	if turnDurationSec < MinTurnSec || turnDurationSec > MaxTurnSec {
		return nil, ErrTurnDuration
	}

	now := m.now()
	host := m.newSeat(ctx, p, now)
	b := &Battle{
		ID:              uuid.NewString(),
		Status:          StatusWaiting,
		HostID:          host.UserID,
		TurnDurationSec: turnDurationSec,
		PlayerA:         host,
		Log:             []LogEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	b.addLog(now, host.UserID, m.text("battle.created", map[string]any{"Player": host.Name}))
	if err := m.store.Insert(ctx, b); err != nil {
		return nil, err
	}
	obslog.Battle(b.ID).Info("battle_create",
		zap.String("host_id", b.HostID),
		zap.Int("turn_sec", b.TurnDurationSec),
		zap.Int("deck", len(host.Deck)),
	)
	return b.ViewFor(p.ID), nil
}

// JoinBattle seats p as the opponent and starts the match.
func (m *Manager) JoinBattle(ctx context.Context, p Player, battleID string) (*Battle, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	seat := m.newSeat(ctx, p, m.now())
	b, _, err := m.store.Update(ctx, battleID, func(b *Battle) (bool, error) {
		switch {
		case b.Status != StatusWaiting:
			return false, ErrNotWaiting
		case b.PlayerB.UserID != "":
			return false, ErrBattleFull
		case b.HostID == p.ID:
			return false, ErrJoinOwn
		}
		now := m.now()
		seat.LastSeenAt = &now
		b.PlayerA.LastSeenAt = &now
		b.PlayerB = seat
		b.OpponentID = seat.UserID
		b.Status = StatusActive
		b.CurrentTurnPlayerID = b.HostID
		b.dealOpening(m.opts.OpeningHand)

		turnStart := now
		if m.opts.PreparationWindow > 0 {
			ends := now.Add(m.opts.PreparationWindow)
			b.Preparation = Preparation{IsActive: true, EndsAt: &ends}
			turnStart = ends
		}
		ends := turnStart.Add(b.turnDuration())
		b.TurnEndsAt = &ends
		b.UpdatedAt = now
		b.addLog(now, seat.UserID, m.text("battle.joined", map[string]any{"Player": seat.Name}))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	obslog.Battle(b.ID).Info("battle_join",
		zap.String("host_id", b.HostID),
		zap.String("opponent_id", b.OpponentID),
		zap.Bool("preparation", b.Preparation.IsActive),
	)
	return b.ViewFor(p.ID), nil
}

// GetBattle returns the caller's view. A waiting room is public; a running
// or finished battle is visible to its two players only.
func (m *Manager) GetBattle(ctx context.Context, p Player, battleID string) (*Battle, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	b, err := m.refresh(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusWaiting && !b.IsSeated(p.ID) {
		return nil, ErrNotSeated
	}
	return b.ViewFor(p.ID), nil
}

// refresh loads a battle and persists whatever the lazy policies changed.
func (m *Manager) refresh(ctx context.Context, battleID string) (*Battle, error) {
	var before Status
	b, committed, err := m.store.Update(ctx, battleID, func(b *Battle) (bool, error) {
		before = b.Status
		return m.catchUp(ctx, b), nil
	})
	if err != nil {
		return nil, err
	}
	if committed {
		m.afterCommit(ctx, before, b)
	}
	return b, nil
}

func (m *Manager) catchUp(ctx context.Context, b *Battle) bool {
	if b.Status != StatusActive {
		return false
	}
	seen, err := m.store.Presence(ctx, b.ID, b.PlayerA.UserID, b.PlayerB.UserID)
	if err != nil {
		obslog.Battle(b.ID).Warn("battle_presence_read_failed", zap.Error(err))
	}
	now := m.now()
	if m.applyPolicies(b, now, seen) {
		b.UpdatedAt = now
		return true
	}
	return false
}

// ListJoinable returns open rooms hosted by someone else, newest first,
// followed by the rooms the caller can rejoin: waiting rooms they host and
// running battles whose rejoin window is still open.
func (m *Manager) ListJoinable(ctx context.Context, p Player) ([]Room, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrUnauthenticated
	}
	ids, err := m.store.WaitingIDs(ctx)
	if err != nil {
		return nil, err
	}
	var join, rejoin []Room
	for _, id := range ids {
		b, err := m.store.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			m.store.Forget(ctx, id, "")
			continue
		}
		if err != nil {
			return nil, err
		}
		if b.Status != StatusWaiting {
			continue
		}
		if b.HostID == p.ID {
			// the host gets back into a room they opened
			rejoin = append(rejoin, Room{Battle: b.ViewFor(p.ID), Mode: ModeRejoin})
			continue
		}
		join = append(join, Room{Battle: b.ViewFor(p.ID), Mode: ModeJoin})
	}
	sortRooms(join)

	mine, err := m.store.UserBattleIDs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for _, id := range mine {
		b, err := m.refresh(ctx, id)
		if errors.Is(err, ErrNotFound) {
			m.store.Forget(ctx, id, p.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if b.Status != StatusActive {
			continue
		}
		if seat := b.Seat(p.ID); seat != nil && seat.RejoinDeadline != nil && !now.After(*seat.RejoinDeadline) {
			rejoin = append(rejoin, Room{Battle: b.ViewFor(p.ID), Mode: ModeRejoin})
		}
	}
	sortRooms(rejoin)
	return append(join, rejoin...), nil
}

func sortRooms(rs []Room) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Battle.CreatedAt.After(rs[j].Battle.CreatedAt) })
}

// Feed delivers one viewer's projection of every committed battle version.
type Feed struct {
	sub *Subscription
	C   <-chan *Battle
}

func (f *Feed) Close() error { return f.sub.Close() }

// Subscribe streams the caller's view of a battle after checking the caller may read it.
func (m *Manager) Subscribe(ctx context.Context, p Player, battleID string) (*Battle, *Feed, error) {
	sub, err := m.store.Subscribe(ctx, battleID)
	if err != nil {
		return nil, nil, err
	}
	b, err := m.GetBattle(ctx, p, battleID)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan *Battle, cap(sub.C))
	go func() {
		defer close(out)
		for raw := range sub.C {
			var v Battle
			if err := json.Unmarshal(raw, &v); err != nil {
				obslog.Battle(battleID).Warn("battle_feed_decode_failed", zap.Error(err))
				continue
			}
			v.hideHands(p.ID)
			select {
			case out <- &v:
			case <-sub.done:
				return
			}
		}
	}()
	return b, &Feed{sub: sub, C: out}, nil
}

// newSeat builds a fresh seat with a shuffled draw pile.
func (m *Manager) newSeat(ctx context.Context, p Player, now time.Time) PlayerState {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = p.ID
	}
	return PlayerState{
		UserID:     strings.TrimSpace(p.ID),
		Name:       name,
		HP:         m.opts.StartingHP,
		MaxHP:      m.opts.StartingHP,
		Hand:       []domain.CardRef{},
		Graveyard:  []domain.CardRef{},
		Deck:       m.buildDeck(ctx, p.ID),
		LastSeenAt: &now,
	}
}

// buildDeck turns the player's inventory into card instances. An empty or
// unreadable inventory falls back to the starter deck.
func (m *Manager) buildDeck(ctx context.Context, userID string) []domain.CardRef {
	if m.cards == nil {
		return []domain.CardRef{}
	}
	var ids []string
	if m.decks != nil {
		got, err := m.decks.DeckFor(ctx, userID)
		if err != nil {
			obslog.L().Warn("battle_deck_source_failed", zap.String("user_id", userID), zap.Error(err))
		}
		ids = got
	}
	if len(ids) == 0 {
		ids = m.cards.StarterDeck()
	}
	deck := make([]domain.CardRef, 0, len(ids))
	for _, id := range ids {
		t, ok := m.cards.Get(id)
		if !ok {
			obslog.L().Warn("battle_deck_unknown_card", zap.String("user_id", userID), zap.String("template_id", id))
			continue
		}
		deck = append(deck, domain.CardRef{
			ID:         uuid.NewString(),
			TemplateID: t.ID,
			Name:       t.Name,
			Type:       t.Type,
			Image:      t.Image,
		})
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

func (b *Battle) dealOpening(n int) {
	for _, seat := range b.seats() {
		seat.draw(n)
	}
}

// draw moves up to n cards from the top of the pile to the end of the hand.
func (s *PlayerState) draw(n int) []domain.CardRef {
	var drawn []domain.CardRef
	for i := 0; i < n && len(s.Deck) > 0; i++ {
		top := s.Deck[len(s.Deck)-1]
		s.Deck = s.Deck[:len(s.Deck)-1]
		s.Hand = append(s.Hand, top)
		drawn = append(drawn, top)
	}
	s.DeckCount = len(s.Deck)
	return drawn
}

func (m *Manager) afterCommit(ctx context.Context, before Status, b *Battle) {
	if b == nil || before == StatusCompleted || b.Status != StatusCompleted {
		return
	}
	obslog.Battle(b.ID).Info("battle_complete",
		zap.String("winner_id", b.WinnerID),
		zap.String("reason", string(b.EndReason)),
		zap.Int("turn", b.TurnNumber),
	)
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordResult(ctx, b); err != nil {
		obslog.Battle(b.ID).Warn("battle_record_failed", zap.Error(err))
	}
}

