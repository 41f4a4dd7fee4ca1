package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/cardsclient"
	"github.com/park285/cards-of-power/internal/domain"
)

const usage = `usage: cardsctl [-server URL] [-token TOKEN] <command> [args]

commands:
  create [turnSec]              open a waiting room
  join <battleId>               take the opponent seat
  list                          rooms you can join or rejoin
  show <battleId>               current view of a battle
  draw <battleId>               draw one card
  play <battleId> <hand> <slot> [attack|defense]
  grave <battleId> <field|hand> <index>
  end <battleId>                end your turn
  hp <battleId> <delta> [userId]
  ready <battleId>              mark ready during preparation
  surrender <battleId>
  watch <battleId>              stream updates and send heartbeats
  history [limit]
  inventory
  starter                       claim the starter pack
  economy [days]                your gold and card count over time
  grant <userId> <templateId> [quantity]   admin only`

type lookupFunc func(string) (string, bool)

type config struct {
	Server  string
	Token   string
	JSON    bool
	Command string
	Args    []string
}

func parseConfig(args []string, lookup lookupFunc) (config, error) {
	cfg := config{
		Server: envOr(lookup, "CARDS_SERVER", "http://localhost:8080"),
		Token:  envOr(lookup, "CARDS_TOKEN", ""),
	}
	fs := flag.NewFlagSet("cardsctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Server, "server", cfg.Server, "server base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "bearer token")
	fs.BoolVar(&cfg.JSON, "json", false, "print raw JSON")
	if err := fs.Parse(args); err != nil {
		return config{}, fmt.Errorf("%w\n%s", err, usage)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return config{}, errors.New(usage)
	}
	cfg.Command = strings.ToLower(rest[0])
	cfg.Args = rest[1:]
	if strings.TrimSpace(cfg.Token) == "" {
		return config{}, errors.New("a token is required (-token or CARDS_TOKEN)")
	}
	return cfg, nil
}

func envOr(lookup lookupFunc, key, def string) string {
	if lookup == nil {
		return def
	}
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	c := cardsclient.NewClient(cfg.Server, cardsclient.WithToken(cfg.Token))
	a := cfg.Args
	key := uuid.NewString()

	var (
		v   any
		err error
	)
	switch cfg.Command {
	case "create":
		sec := 0
		if len(a) > 0 {
			if sec, err = strconv.Atoi(a[0]); err != nil {
				return fmt.Errorf("turnSec: %w", err)
			}
		}
		var id string
		if id, err = c.CreateBattle(ctx, sec); err == nil {
			v = map[string]string{"battleId": id}
		}
	case "join":
		if err = need(a, 1); err == nil {
			v, err = c.JoinBattle(ctx, a[0])
		}
	case "list":
		v, err = c.ListJoinable(ctx)
	case "show":
		if err = need(a, 1); err == nil {
			v, err = c.GetBattle(ctx, a[0])
		}
	case "draw":
		if err = need(a, 1); err == nil {
			v, err = c.DrawCard(ctx, a[0], key)
		}
	case "play":
		v, err = play(ctx, c, a, key)
	case "grave":
		v, err = grave(ctx, c, a, key)
	case "end":
		if err = need(a, 1); err == nil {
			v, err = c.EndTurn(ctx, a[0], key)
		}
	case "hp":
		v, err = hp(ctx, c, a, key)
	case "ready":
		if err = need(a, 1); err == nil {
			v, err = c.SetReady(ctx, a[0], key)
		}
	case "surrender":
		if err = need(a, 1); err == nil {
			v, err = c.Surrender(ctx, a[0], key)
		}
	case "history":
		limit := 0
		if len(a) > 0 {
			if limit, err = strconv.Atoi(a[0]); err != nil {
				return fmt.Errorf("limit: %w", err)
			}
		}
		v, err = c.History(ctx, limit)
	case "inventory":
		v, err = c.Inventory(ctx)
	case "starter":
		v, err = c.ClaimStarterPack(ctx)
	case "economy":
		days := 0
		if len(a) > 0 {
			if days, err = strconv.Atoi(a[0]); err != nil {
				return fmt.Errorf("days: %w", err)
			}
		}
		v, err = c.EconomyHistory(ctx, days)
	case "grant":
		if err = need(a, 2); err != nil {
			return err
		}
		qty := 1
		if len(a) > 2 {
			if qty, err = strconv.Atoi(a[2]); err != nil {
				return fmt.Errorf("quantity: %w", err)
			}
		}
		v, err = c.Grant(ctx, a[0], a[1], qty)
	case "watch":
		if err = need(a, 1); err != nil {
			return err
		}
		return watch(ctx, c, a[0], cfg.JSON, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cfg.Command, usage)
	}
	if err != nil {
		return err
	}
	return render(out, v, cfg.JSON)
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s)\n%s", n, usage)
	}
	return nil
}

func play(ctx context.Context, c *cardsclient.Client, a []string, key string) (any, error) {
	if err := need(a, 3); err != nil {
		return nil, err
	}
	hand, err := strconv.Atoi(a[1])
	if err != nil {
		return nil, fmt.Errorf("hand index: %w", err)
	}
	slot, err := strconv.Atoi(a[2])
	if err != nil {
		return nil, fmt.Errorf("slot index: %w", err)
	}
	args := battle.PlayCardArgs{BattleID: a[0], FromHandIndex: hand, ToSlotIndex: slot, IdempotencyKey: key}
	if len(a) > 3 {
		args.Position = domain.Position(strings.ToLower(a[3]))
	}
	return c.PlayCard(ctx, args)
}

func grave(ctx context.Context, c *cardsclient.Client, a []string, key string) (any, error) {
	if err := need(a, 3); err != nil {
		return nil, err
	}
	idx, err := strconv.Atoi(a[2])
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	return c.SendToGraveyard(ctx, battle.GraveyardArgs{
		BattleID: a[0], Source: battle.GraveSource(strings.ToLower(a[1])), Index: idx, IdempotencyKey: key,
	})
}

func hp(ctx context.Context, c *cardsclient.Client, a []string, key string) (any, error) {
	if err := need(a, 2); err != nil {
		return nil, err
	}
	delta, err := strconv.Atoi(a[1])
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}
	args := battle.HPArgs{BattleID: a[0], Delta: delta, IdempotencyKey: key}
	if len(a) > 2 {
		args.TargetUserID = a[2]
	}
	return c.UpdateHP(ctx, args)
}

// watch prints every view until the battle completes, keeping the seat
// alive with heartbeats while it runs.
func watch(ctx context.Context, c *cardsclient.Client, battleID string, raw bool, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	views := make(chan *battle.Battle, 16)
	st := c.Stream(battleID, 5)
	st.OnBattle(func(b *battle.Battle) {
		select {
		case views <- b:
		case <-ctx.Done():
		}
	})
	st.OnStateChange(func(s cardsclient.StreamState) {
		fmt.Fprintf(out, "-- stream %s\n", s)
	})
	if err := st.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = st.Close(cctx)
		ccancel()
	}()

	hb := make(chan error, 1)
	go func() { hb <- c.Heartbeat(ctx, battleID, cardsclient.DefaultHeartbeat) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-hb:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case b := <-views:
			if err := render(out, b, raw); err != nil {
				return err
			}
			if b.Status == battle.StatusCompleted {
				return nil
			}
		}
	}
}

func render(out io.Writer, v any, raw bool) error {
	if !raw {
		switch x := v.(type) {
		case *battle.Battle:
			return summarize(out, x)
		case *battle.ActionResult:
			if x.Replayed {
				fmt.Fprintln(out, "(replayed)")
			}
			if x.Effect != nil && x.Effect.Message != "" {
				fmt.Fprintln(out, x.Effect.Message)
			}
			return summarize(out, x.Battle)
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func summarize(out io.Writer, b *battle.Battle) error {
	if b == nil {
		return nil
	}
	fmt.Fprintf(out, "battle %s  status=%s  turn=%d  to-move=%s\n", b.ID, b.Status, b.TurnNumber, b.CurrentTurnPlayerID)
	for _, s := range []battle.PlayerState{b.PlayerA, b.PlayerB} {
		if s.UserID == "" {
			continue
		}
		fmt.Fprintf(out, "  %-12s hp=%d/%d hand=%d deck=%d grave=%d field=%s\n",
			s.Name, s.HP, s.MaxHP, s.HandCount, s.DeckCount, len(s.Graveyard), fieldLine(s.Field))
	}
	if n := len(b.Log); n > 0 {
		fmt.Fprintf(out, "  last: %s\n", b.Log[n-1].Text)
	}
	if b.Status == battle.StatusCompleted {
		fmt.Fprintf(out, "  winner=%s reason=%s\n", b.WinnerID, b.EndReason)
	}
	return nil
}

func fieldLine(f [battle.FieldSize]*domain.CardRef) string {
	parts := make([]string, len(f))
	for i, c := range f {
		if c == nil {
			parts[i] = "-"
			continue
		}
		parts[i] = c.Name
	}
	return "[" + strings.Join(parts, " | ") + "]"
}
