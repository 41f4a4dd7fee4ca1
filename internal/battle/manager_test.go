package battle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cards-of-power/internal/catalog"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/effects"
)

var (
	host = Player{ID: "u-host", Name: "Yugi"}
	opp  = Player{ID: "u-opp", Name: "Kaiba"}
	lurk = Player{ID: "u-lurk", Name: "Joey"}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []*Battle
}

func (f *fakeRecorder) RecordResult(_ context.Context, b *Battle) error {
	f.mu.Lock()
	f.seen = append(f.seen, b)
	f.mu.Unlock()
	return nil
}

func newTestManager(t *testing.T, opts Options) (*Manager, *testClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cards, err := catalog.New("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	return NewManager(NewStore(rdb, time.Hour), cards, nil, nil, opts), clk
}

// startBattle creates a room for host, seats opp and returns the id.
func startBattle(t *testing.T, m *Manager, turnSec int) string {
	t.Helper()
	ctx := context.Background()
	b, err := m.CreateBattle(ctx, host, turnSec)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if _, err := m.JoinBattle(ctx, opp, b.ID); err != nil {
		t.Fatalf("JoinBattle: %v", err)
	}
	return b.ID
}

// setHand replaces a seat's hand with fresh instances of the named cards.
func setHand(t *testing.T, m *Manager, battleID, userID string, names ...string) {
	t.Helper()
	_, _, err := m.store.Update(context.Background(), battleID, func(b *Battle) (bool, error) {
		seat := b.Seat(userID)
		seat.Hand = []domain.CardRef{}
		for i, n := range names {
			tpl, ok := m.cards.ByName(n)
			if !ok {
				t.Fatalf("unknown card %q", n)
			}
			seat.Hand = append(seat.Hand, domain.CardRef{
				ID:         userID + "-" + tpl.ID + "-" + string(rune('a'+i)),
				TemplateID: tpl.ID,
				Name:       tpl.Name,
				Type:       tpl.Type,
			})
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("setHand: %v", err)
	}
}

func load(t *testing.T, m *Manager, id string) *Battle {
	t.Helper()
	b, err := m.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return b
}

func TestScenarioCreateJoinPlayEndTurn(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	created, err := m.CreateBattle(ctx, host, 30)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if created.Status != StatusWaiting || created.TurnNumber != 0 || len(created.PlayerA.Hand) != 0 {
		t.Fatalf("unexpected new battle: %+v", created)
	}
	if created.PlayerA.DeckCount == 0 || created.PlayerA.Deck != nil {
		t.Fatalf("view should expose deck count only: count=%d deck=%v", created.PlayerA.DeckCount, created.PlayerA.Deck)
	}

	joined, err := m.JoinBattle(ctx, opp, created.ID)
	if err != nil {
		t.Fatalf("JoinBattle: %v", err)
	}
	if joined.Status != StatusActive || joined.CurrentTurnPlayerID != host.ID || joined.OpponentID != opp.ID {
		t.Fatalf("unexpected joined battle: status=%s owner=%s", joined.Status, joined.CurrentTurnPlayerID)
	}
	if joined.TurnEndsAt == nil || joined.TurnEndsAt.Sub(joined.UpdatedAt) != 30*time.Second {
		t.Fatalf("turnEndsAt not set from duration: %v", joined.TurnEndsAt)
	}

	setHand(t, m, created.ID, host.ID, "Stone Golem", "Flame Imp")
	card := load(t, m, created.ID).PlayerA.Hand[0]

	res, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: created.ID, FromHandIndex: 0, ToSlotIndex: 2})
	if err != nil {
		t.Fatalf("PlayCard: %v", err)
	}
	b := res.Battle
	if b.PlayerA.Field[2] == nil || b.PlayerA.Field[2].ID != card.ID {
		t.Fatalf("field[2] = %+v, want %s", b.PlayerA.Field[2], card.ID)
	}
	if len(b.PlayerA.Hand) != 1 {
		t.Fatalf("hand len = %d, want 1", len(b.PlayerA.Hand))
	}
	if b.PlayerA.Field[2].Position != domain.PositionAttack {
		t.Fatalf("monster should default to attack position, got %q", b.PlayerA.Field[2].Position)
	}

	res, err = m.EndTurn(ctx, host, created.ID, "")
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if res.Battle.TurnNumber != 1 || res.Battle.CurrentTurnPlayerID != opp.ID {
		t.Fatalf("after end turn: turn=%d owner=%s", res.Battle.TurnNumber, res.Battle.CurrentTurnPlayerID)
	}
}

func TestPlayCardValidation(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Stone Golem", "Flame Imp")

	cases := []struct {
		name string
		p    Player
		args PlayCardArgs
		want error
	}{
		{"hand index", host, PlayCardArgs{FromHandIndex: 5, ToSlotIndex: 0}, ErrHandIndex},
		{"negative hand index", host, PlayCardArgs{FromHandIndex: -1, ToSlotIndex: 0}, ErrHandIndex},
		{"slot index", host, PlayCardArgs{FromHandIndex: 0, ToSlotIndex: 5}, ErrSlotIndex},
		{"position", host, PlayCardArgs{FromHandIndex: 0, ToSlotIndex: 0, Position: "sideways"}, ErrBadPosition},
		{"not your turn", opp, PlayCardArgs{FromHandIndex: 0, ToSlotIndex: 0}, ErrNotYourTurn},
		{"not seated", lurk, PlayCardArgs{FromHandIndex: 0, ToSlotIndex: 0}, ErrNotSeated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.args.BattleID = id
			if _, err := m.PlayCard(ctx, tc.p, tc.args); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 1, Position: domain.PositionDefense}); err != nil {
		t.Fatalf("PlayCard: %v", err)
	}
	if _, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 1}); !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}
	b := load(t, m, id)
	if len(b.PlayerA.Hand) != 1 || b.PlayerA.Field[1].Position != domain.PositionDefense {
		t.Fatalf("rejected play must not change state: hand=%d", len(b.PlayerA.Hand))
	}
}

func TestIdempotentReplay(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Lightning Bolt", "Stone Golem")

	args := PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 0, IdempotencyKey: "k-1"}
	first, err := m.PlayCard(ctx, host, args)
	if err != nil {
		t.Fatalf("PlayCard: %v", err)
	}
	second, err := m.PlayCard(ctx, host, args)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || first.Replayed {
		t.Fatalf("replayed flags: first=%v second=%v", first.Replayed, second.Replayed)
	}
	if second.Effect == nil || second.Effect.Damage != 3000 {
		t.Fatalf("replay should return the stored effect, got %+v", second.Effect)
	}
	if second.Battle.Version != first.Battle.Version {
		t.Fatalf("replay wrote the document: %d -> %d", first.Battle.Version, second.Battle.Version)
	}
	if second.Battle.PlayerB.HP != first.Battle.PlayerB.HP || len(second.Battle.PlayerA.Hand) != 1 {
		t.Fatalf("replay re-applied the action")
	}

	if _, err := m.EndTurn(ctx, host, id, "k-2"); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	res, err := m.EndTurn(ctx, host, id, "k-2")
	if err != nil {
		t.Fatalf("EndTurn replay: %v", err)
	}
	if res.Battle.TurnNumber != 1 || res.Battle.CurrentTurnPlayerID != opp.ID {
		t.Fatalf("turn advanced twice: %d", res.Battle.TurnNumber)
	}
}

func TestEndTurnOwnership(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)

	if _, err := m.EndTurn(ctx, opp, id, ""); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	for i, p := range []Player{host, opp, host} {
		res, err := m.EndTurn(ctx, p, id, "")
		if err != nil {
			t.Fatalf("EndTurn #%d: %v", i, err)
		}
		if res.Battle.TurnNumber != i+1 {
			t.Fatalf("turn = %d, want %d", res.Battle.TurnNumber, i+1)
		}
		if res.Battle.CurrentTurnPlayerID == p.ID {
			t.Fatalf("owner did not flip")
		}
	}
}

func TestUpdateHPClampsAndCompletes(t *testing.T) {
	m, _ := newTestManager(t, Options{StartingHP: 8000})
	rec := &fakeRecorder{}
	m.AttachRecorder(rec)
	ctx := context.Background()
	id := startBattle(t, m, 30)

	res, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, TargetUserID: host.ID, Delta: 5000})
	if err != nil {
		t.Fatalf("UpdateHP: %v", err)
	}
	if res.Battle.PlayerA.HP != 8000 {
		t.Fatalf("hp above max: %d", res.Battle.PlayerA.HP)
	}
	if _, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, TargetUserID: "nobody", Delta: -1}); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if _, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, TargetUserID: opp.ID, Delta: 0}); !errors.Is(err, ErrBadDelta) {
		t.Fatalf("expected ErrBadDelta, got %v", err)
	}

	res, err = m.UpdateHP(ctx, host, HPArgs{BattleID: id, TargetUserID: opp.ID, Delta: -20000, IdempotencyKey: "finish"})
	if err != nil {
		t.Fatalf("UpdateHP: %v", err)
	}
	b := res.Battle
	if b.PlayerB.HP != 0 || b.Status != StatusCompleted || b.WinnerID != host.ID || b.EndReason != EndHP {
		t.Fatalf("unexpected end state: hp=%d status=%s winner=%s reason=%s", b.PlayerB.HP, b.Status, b.WinnerID, b.EndReason)
	}
	if b.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
	if len(rec.seen) != 1 || rec.seen[0].ID != id {
		t.Fatalf("recorder calls = %d", len(rec.seen))
	}

	if _, err := m.EndTurn(ctx, host, id, ""); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after completion, got %v", err)
	}
	replay, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, TargetUserID: opp.ID, Delta: -20000, IdempotencyKey: "finish"})
	if err != nil || !replay.Replayed {
		t.Fatalf("replay after completion: %v replayed=%v", err, replay != nil && replay.Replayed)
	}
	if len(rec.seen) != 1 {
		t.Fatalf("completion recorded twice")
	}
}

func TestJoinRules(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	b, err := m.CreateBattle(ctx, host, 0)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if b.TurnDurationSec != 30 {
		t.Fatalf("default turn duration = %d", b.TurnDurationSec)
	}
	if _, err := m.JoinBattle(ctx, host, b.ID); !errors.Is(err, ErrJoinOwn) {
		t.Fatalf("expected ErrJoinOwn, got %v", err)
	}
	joined, err := m.JoinBattle(ctx, opp, b.ID)
	if err != nil {
		t.Fatalf("JoinBattle: %v", err)
	}
	if joined.PlayerB.UserID != opp.ID || joined.PlayerA.UserID != host.ID {
		t.Fatalf("seats: A=%s B=%s", joined.PlayerA.UserID, joined.PlayerB.UserID)
	}
	if joined.PlayerA.HandCount != 5 || len(joined.PlayerB.Hand) != 5 {
		t.Fatalf("opening hands: %d/%d", joined.PlayerA.HandCount, len(joined.PlayerB.Hand))
	}
	if _, err := m.JoinBattle(ctx, lurk, b.ID); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}
	if _, err := m.JoinBattle(ctx, lurk, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, sec := range []int{5, 601, -1} {
		if _, err := m.CreateBattle(ctx, host, sec); !errors.Is(err, ErrTurnDuration) {
			t.Fatalf("duration %d: expected ErrTurnDuration, got %v", sec, err)
		}
	}
}

func TestGetBattleVisibility(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	waiting, err := m.CreateBattle(ctx, host, 30)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if _, err := m.GetBattle(ctx, lurk, waiting.ID); err != nil {
		t.Fatalf("waiting rooms are public: %v", err)
	}
	if _, err := m.JoinBattle(ctx, opp, waiting.ID); err != nil {
		t.Fatalf("JoinBattle: %v", err)
	}
	if _, err := m.GetBattle(ctx, lurk, waiting.ID); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("expected ErrNotSeated, got %v", err)
	}
	if _, err := m.GetBattle(ctx, Player{}, waiting.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestEffectDispatchInPlayCard(t *testing.T) {
	m, _ := newTestManager(t, Options{StartingHP: 8000})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Lightning Bolt", "Ancient Dragon", "Celestial Healer")

	res, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 0})
	if err != nil {
		t.Fatalf("PlayCard bolt: %v", err)
	}
	if res.Effect == nil || !res.Effect.Success || res.Effect.Damage != 3000 {
		t.Fatalf("effect = %+v", res.Effect)
	}
	if res.Battle.PlayerB.HP != 5000 {
		t.Fatalf("opponent hp = %d", res.Battle.PlayerB.HP)
	}
	last := res.Battle.Log[len(res.Battle.Log)-1].Text
	if !strings.Contains(last, "Lightning Bolt") || !strings.Contains(last, "3000") {
		t.Fatalf("effect log line missing: %q", last)
	}

	res, err = m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 1})
	if err != nil {
		t.Fatalf("PlayCard dragon: %v", err)
	}
	if res.Battle.PlayerA.Field[1].AttackBoost != 500 {
		t.Fatalf("attack boost = %d", res.Battle.PlayerA.Field[1].AttackBoost)
	}

	if _, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, Delta: -2000}); err != nil {
		t.Fatalf("UpdateHP self: %v", err)
	}
	res, err = m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 2})
	if err != nil {
		t.Fatalf("PlayCard healer: %v", err)
	}
	if res.Battle.PlayerA.HP != 7000 {
		t.Fatalf("healed hp = %d, want 7000", res.Battle.PlayerA.HP)
	}
}

func TestUnimplementedEffectBlocksPlay(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	tables := effects.DefaultTables()
	delete(tables[domain.CardSpell], "Lightning Bolt")
	m.effects = effects.NewDispatcherWithTables(m.msgs, tables)
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Lightning Bolt")

	_, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 0})
	if !errors.Is(err, effects.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if !strings.Contains(err.Error(), "has not yet been implemented") {
		t.Fatalf("message = %q", err.Error())
	}
	b := load(t, m, id)
	if len(b.PlayerA.Hand) != 1 || b.PlayerA.Field[0] != nil {
		t.Fatalf("blocked play must leave the card in hand")
	}
}

func TestDrawAndGraveyard(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Stone Golem", "Flame Imp")

	before := load(t, m, id)
	res, err := m.DrawCard(ctx, host, id, "")
	if err != nil {
		t.Fatalf("DrawCard: %v", err)
	}
	if len(res.Battle.PlayerA.Hand) != 3 || res.Battle.PlayerA.DeckCount != len(before.PlayerA.Deck)-1 {
		t.Fatalf("draw: hand=%d deck=%d", len(res.Battle.PlayerA.Hand), res.Battle.PlayerA.DeckCount)
	}
	drawn := before.PlayerA.Deck[len(before.PlayerA.Deck)-1]
	if res.Battle.PlayerA.Hand[2].ID != drawn.ID {
		t.Fatalf("drew %s, want top of pile %s", res.Battle.PlayerA.Hand[2].ID, drawn.ID)
	}

	if _, err := m.SendToGraveyard(ctx, host, GraveyardArgs{BattleID: id, Index: 0}); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
	if _, err := m.SendToGraveyard(ctx, host, GraveyardArgs{BattleID: id, Source: "deck"}); !errors.Is(err, ErrBadSource) {
		t.Fatalf("expected ErrBadSource, got %v", err)
	}
	if _, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 3}); err != nil {
		t.Fatalf("PlayCard: %v", err)
	}
	res, err = m.SendToGraveyard(ctx, host, GraveyardArgs{BattleID: id, Index: 3})
	if err != nil {
		t.Fatalf("SendToGraveyard field: %v", err)
	}
	if res.Battle.PlayerA.Field[3] != nil || len(res.Battle.PlayerA.Graveyard) != 1 {
		t.Fatalf("field card not moved to graveyard")
	}
	if res.Battle.PlayerA.Graveyard[0].Position != "" {
		t.Fatalf("graveyard card kept its position")
	}
	res, err = m.SendToGraveyard(ctx, host, GraveyardArgs{BattleID: id, Source: FromHand, Index: 0})
	if err != nil {
		t.Fatalf("SendToGraveyard hand: %v", err)
	}
	if len(res.Battle.PlayerA.Hand) != 1 || len(res.Battle.PlayerA.Graveyard) != 2 {
		t.Fatalf("hand=%d graveyard=%d", len(res.Battle.PlayerA.Hand), len(res.Battle.PlayerA.Graveyard))
	}

	_, _, err = m.store.Update(ctx, id, func(b *Battle) (bool, error) {
		b.PlayerB.Deck = nil
		return true, nil
	})
	if err != nil {
		t.Fatalf("empty deck: %v", err)
	}
	if _, err := m.DrawCard(ctx, opp, id, ""); !errors.Is(err, ErrDeckEmpty) {
		t.Fatalf("expected ErrDeckEmpty, got %v", err)
	}
}

func TestPreparationWindow(t *testing.T) {
	m, clk := newTestManager(t, Options{PreparationWindow: 20 * time.Second})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	setHand(t, m, id, host.ID, "Stone Golem", "Flame Imp")

	b := load(t, m, id)
	if !b.Preparation.IsActive || b.Preparation.EndsAt == nil {
		t.Fatalf("preparation not opened: %+v", b.Preparation)
	}
	if _, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 0}); !errors.Is(err, ErrPreparation) {
		t.Fatalf("expected ErrPreparation, got %v", err)
	}
	if _, err := m.SetReady(ctx, host, id, ""); err != nil {
		t.Fatalf("SetReady host: %v", err)
	}
	clk.Advance(5 * time.Second)
	res, err := m.SetReady(ctx, opp, id, "")
	if err != nil {
		t.Fatalf("SetReady opp: %v", err)
	}
	if res.Battle.Preparation.IsActive {
		t.Fatalf("both ready should close preparation")
	}
	if got := res.Battle.TurnEndsAt.Sub(clk.Now()); got != 30*time.Second {
		t.Fatalf("turn clock not restarted: %v", got)
	}
	if _, err := m.SetReady(ctx, opp, id, ""); !errors.Is(err, ErrNoPreparation) {
		t.Fatalf("expected ErrNoPreparation, got %v", err)
	}
	if _, err := m.PlayCard(ctx, host, PlayCardArgs{BattleID: id, FromHandIndex: 0, ToSlotIndex: 0}); err != nil {
		t.Fatalf("PlayCard after preparation: %v", err)
	}
}

func TestPreparationExpiresLazily(t *testing.T) {
	m, clk := newTestManager(t, Options{PreparationWindow: 20 * time.Second})
	ctx := context.Background()
	id := startBattle(t, m, 30)

	clk.Advance(21 * time.Second)
	b, err := m.GetBattle(ctx, host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.Preparation.IsActive {
		t.Fatalf("preparation should have expired")
	}
	want := b.Preparation.EndsAt.Add(30 * time.Second)
	if !b.TurnEndsAt.Equal(want) {
		t.Fatalf("turnEndsAt = %v, want %v", b.TurnEndsAt, want)
	}
}

func TestTurnTimerAutoEnds(t *testing.T) {
	m, clk := newTestManager(t, Options{EnforceTurnTimer: true, PresenceStaleAfter: time.Hour})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	start := clk.Now()

	clk.Advance(31 * time.Second)
	b, err := m.GetBattle(ctx, host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.TurnNumber != 1 || b.CurrentTurnPlayerID != opp.ID {
		t.Fatalf("turn=%d owner=%s", b.TurnNumber, b.CurrentTurnPlayerID)
	}
	if !b.TurnEndsAt.Equal(start.Add(60 * time.Second)) {
		t.Fatalf("turnEndsAt = %v", b.TurnEndsAt)
	}

	clk.Advance(90 * time.Second)
	b, err = m.GetBattle(ctx, opp, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.TurnNumber != 4 || b.CurrentTurnPlayerID != host.ID {
		t.Fatalf("after three more expiries: turn=%d owner=%s", b.TurnNumber, b.CurrentTurnPlayerID)
	}
}

func TestTurnTimerExactDeadline(t *testing.T) {
	m, clk := newTestManager(t, Options{EnforceTurnTimer: true, PresenceStaleAfter: time.Hour})
	id := startBattle(t, m, 30)
	start := clk.Now()

	clk.Advance(60 * time.Second)
	b, err := m.GetBattle(context.Background(), host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.TurnNumber != 1 || b.CurrentTurnPlayerID != opp.ID {
		t.Fatalf("turn=%d owner=%s, want 1 and the opponent", b.TurnNumber, b.CurrentTurnPlayerID)
	}
	if !b.TurnEndsAt.Equal(start.Add(60 * time.Second)) {
		t.Fatalf("turnEndsAt = %v", b.TurnEndsAt)
	}
}

func TestTurnTimerAdvisoryWhenDisabled(t *testing.T) {
	m, clk := newTestManager(t, Options{EnforceTurnTimer: false, PresenceStaleAfter: time.Hour})
	id := startBattle(t, m, 30)
	clk.Advance(5 * time.Minute)
	b, err := m.GetBattle(context.Background(), host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.TurnNumber != 0 {
		t.Fatalf("timer should be advisory, turn=%d", b.TurnNumber)
	}
}

func TestPresenceRejoinAndForfeit(t *testing.T) {
	m, clk := newTestManager(t, Options{})
	rec := &fakeRecorder{}
	m.AttachRecorder(rec)
	ctx := context.Background()
	id := startBattle(t, m, 300)

	clk.Advance(10 * time.Second)
	if _, err := m.UpdatePresence(ctx, host, id); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	clk.Advance(5 * time.Second)
	b, err := m.GetBattle(ctx, host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.PlayerB.RejoinDeadline == nil || b.PlayerA.RejoinDeadline != nil {
		t.Fatalf("deadlines: host=%v opp=%v", b.PlayerA.RejoinDeadline, b.PlayerB.RejoinDeadline)
	}

	rooms, err := m.ListJoinable(ctx, opp)
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Mode != ModeRejoin || rooms[0].Battle.ID != id {
		t.Fatalf("rooms = %+v", rooms)
	}

	for i := 0; i < 12; i++ {
		clk.Advance(4 * time.Second)
		if _, err := m.UpdatePresence(ctx, host, id); err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
	}
	b, err = m.GetBattle(ctx, host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.Status != StatusCompleted || b.WinnerID != host.ID || b.EndReason != EndForfeit {
		t.Fatalf("expected forfeit win for host: status=%s winner=%s reason=%s", b.Status, b.WinnerID, b.EndReason)
	}
	if len(rec.seen) != 1 {
		t.Fatalf("recorder calls = %d", len(rec.seen))
	}
	rooms, err = m.ListJoinable(ctx, opp)
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("completed battle still listed: %+v", rooms)
	}
}

func TestHeartbeatClearsRejoinDeadline(t *testing.T) {
	m, clk := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 300)

	clk.Advance(20 * time.Second)
	if _, err := m.GetBattle(ctx, host, id); err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if load(t, m, id).PlayerB.RejoinDeadline == nil {
		t.Fatalf("expected a rejoin deadline")
	}
	b, err := m.UpdatePresence(ctx, opp, id)
	if err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	if b.PlayerB.RejoinDeadline != nil || b.Status != StatusActive {
		t.Fatalf("heartbeat should clear the deadline: %v", b.PlayerB.RejoinDeadline)
	}
	if _, err := m.UpdatePresence(ctx, lurk, id); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("expected ErrNotSeated, got %v", err)
	}
}

func TestActionsCountAsPresence(t *testing.T) {
	m, clk := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 300)

	// host only plays through mutations, opp only heartbeats
	for i := 0; i < 15; i++ {
		clk.Advance(10 * time.Second)
		if _, err := m.UpdatePresence(ctx, opp, id); err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
		if _, err := m.UpdateHP(ctx, host, HPArgs{BattleID: id, Delta: -1}); err != nil {
			t.Fatalf("UpdateHP %d: %v", i, err)
		}
	}
	b := load(t, m, id)
	if b.Status != StatusActive {
		t.Fatalf("active player was forfeited: status=%s reason=%s", b.Status, b.EndReason)
	}
	if b.PlayerA.RejoinDeadline != nil || b.PlayerA.LastSeenAt == nil || !b.PlayerA.LastSeenAt.Equal(clk.Now()) {
		t.Fatalf("host presence not refreshed: seen=%v deadline=%v", b.PlayerA.LastSeenAt, b.PlayerA.RejoinDeadline)
	}
}

func TestListJoinableWaitingRooms(t *testing.T) {
	m, clk := newTestManager(t, Options{})
	ctx := context.Background()

	older, err := m.CreateBattle(ctx, host, 30)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	clk.Advance(time.Second)
	newer, err := m.CreateBattle(ctx, host, 60)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if older.ID == newer.ID {
		t.Fatalf("each create must open a distinct room")
	}
	mine, err := m.CreateBattle(ctx, lurk, 30)
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}

	rooms, err := m.ListJoinable(ctx, lurk)
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(rooms) != 3 || rooms[0].Battle.ID != newer.ID || rooms[1].Battle.ID != older.ID {
		t.Fatalf("rooms = %+v", rooms)
	}
	for _, r := range rooms[:2] {
		if r.Mode != ModeJoin {
			t.Fatalf("unexpected room %+v", r)
		}
	}
	if rooms[2].Battle.ID != mine.ID || rooms[2].Mode != ModeRejoin {
		t.Fatalf("own waiting room should be offered for rejoin: %+v", rooms[2])
	}

	hosted, err := m.ListJoinable(ctx, host)
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(hosted) != 3 || hosted[0].Battle.ID != mine.ID || hosted[0].Mode != ModeJoin {
		t.Fatalf("host rooms = %+v", hosted)
	}
	for _, r := range hosted[1:] {
		if r.Mode != ModeRejoin || r.Battle.HostID != host.ID {
			t.Fatalf("host's own room not offered for rejoin: %+v", r)
		}
	}

	if _, err := m.JoinBattle(ctx, opp, older.ID); err != nil {
		t.Fatalf("JoinBattle: %v", err)
	}
	rooms, err = m.ListJoinable(ctx, lurk)
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Battle.ID != newer.ID || rooms[1].Battle.ID != mine.ID {
		t.Fatalf("joined room still listed: %+v", rooms)
	}
}

func TestSurrender(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	rec := &fakeRecorder{}
	m.AttachRecorder(Recorders{rec, nil})
	ctx := context.Background()
	id := startBattle(t, m, 30)

	res, err := m.Surrender(ctx, opp, id, "")
	if err != nil {
		t.Fatalf("Surrender: %v", err)
	}
	if res.Battle.WinnerID != host.ID || res.Battle.EndReason != EndSurrender {
		t.Fatalf("winner=%s reason=%s", res.Battle.WinnerID, res.Battle.EndReason)
	}
	if len(rec.seen) != 1 {
		t.Fatalf("recorder calls = %d", len(rec.seen))
	}
	if _, err := m.Surrender(ctx, host, id, ""); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestConcurrentDrawsKeepCardsConserved(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)
	before := load(t, m, id)
	total := len(before.PlayerA.Hand) + len(before.PlayerA.Deck)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.DrawCard(ctx, host, id, "")
			if err != nil && !errors.Is(err, ErrConflict) {
				t.Errorf("DrawCard: %v", err)
			}
		}()
	}
	wg.Wait()

	after := load(t, m, id)
	if got := len(after.PlayerA.Hand) + len(after.PlayerA.Deck); got != total {
		t.Fatalf("cards not conserved: %d != %d", got, total)
	}
	if after.Version <= before.Version {
		t.Fatalf("version did not advance")
	}
}

func TestViewsHideOpponentHand(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	id := startBattle(t, m, 30)

	mine, err := m.GetBattle(ctx, host, id)
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if len(mine.PlayerA.Hand) != 5 || mine.PlayerA.HandCount != 5 {
		t.Fatalf("own hand: len=%d count=%d", len(mine.PlayerA.Hand), mine.PlayerA.HandCount)
	}
	if len(mine.PlayerB.Hand) != 0 || mine.PlayerB.HandCount != 5 {
		t.Fatalf("opponent hand: len=%d count=%d", len(mine.PlayerB.Hand), mine.PlayerB.HandCount)
	}

	res, err := m.DrawCard(ctx, opp, id, "")
	if err != nil {
		t.Fatalf("DrawCard: %v", err)
	}
	if len(res.Battle.PlayerB.Hand) != 6 || len(res.Battle.PlayerA.Hand) != 0 || res.Battle.PlayerA.HandCount != 5 {
		t.Fatalf("opp view after draw: own=%d foe=%d foeCount=%d",
			len(res.Battle.PlayerB.Hand), len(res.Battle.PlayerA.Hand), res.Battle.PlayerA.HandCount)
	}

	stored := load(t, m, id)
	if len(stored.PlayerA.Hand) != 5 || len(stored.PlayerB.Hand) != 6 {
		t.Fatalf("stored hands changed: %d/%d", len(stored.PlayerA.Hand), len(stored.PlayerB.Hand))
	}
}

func TestSubscribeReceivesCommits(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := startBattle(t, m, 30)

	if _, _, err := m.Subscribe(ctx, lurk, id); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("expected ErrNotSeated, got %v", err)
	}
	first, sub, err := m.Subscribe(ctx, opp, id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	if first.TurnNumber != 0 {
		t.Fatalf("initial view turn = %d", first.TurnNumber)
	}

	if _, err := m.EndTurn(ctx, host, id, ""); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	select {
	case b := <-sub.C:
		if b.TurnNumber != 1 || b.PlayerA.Deck != nil || b.PlayerA.DeckCount == 0 {
			t.Fatalf("pushed view: turn=%d deck=%v count=%d", b.TurnNumber, b.PlayerA.Deck, b.PlayerA.DeckCount)
		}
		if len(b.PlayerA.Hand) != 0 || b.PlayerA.HandCount != 5 || len(b.PlayerB.Hand) != 5 {
			t.Fatalf("opp feed hands: host=%d hostCount=%d own=%d",
				len(b.PlayerA.Hand), b.PlayerA.HandCount, len(b.PlayerB.Hand))
		}
	case <-ctx.Done():
		t.Fatalf("no update received")
	}
}
