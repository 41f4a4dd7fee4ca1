package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/obslog"
)

const maxTxAttempts = 3

// Store keeps battle documents as JSON values in Redis. Writes go through
// Update, which wraps the read-modify-write in WATCH/MULTI/EXEC.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keyBattle(id string) string   { return "battle:" + strings.TrimSpace(id) }
func (s *Store) keyEvents(id string) string   { return "battle:events:" + strings.TrimSpace(id) }
func (s *Store) keyUserIdx(uid string) string { return "battle:index:user:" + strings.TrimSpace(uid) }
func (s *Store) keyWaiting() string           { return "battle:waiting" }
func (s *Store) keyPresence(id, uid string) string {
	return "presence:" + strings.TrimSpace(id) + ":" + strings.TrimSpace(uid)
}

// Insert writes a new document. It fails if the id is already taken.
func (s *Store) Insert(ctx context.Context, b *Battle) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyBattle(b.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("battle %s already exists", b.ID)
	}
	pipe := s.rdb.TxPipeline()
	s.index(ctx, pipe, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index battle %s: %w", b.ID, err)
	}
	s.publish(ctx, b)
	return nil
}

// Load returns ErrNotFound for a missing or expired document.
func (s *Store) Load(ctx context.Context, id string) (*Battle, error) {
	raw, err := s.rdb.Get(ctx, s.keyBattle(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b Battle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode battle %s: %w", id, err)
	}
	return &b, nil
}

// MutateFunc edits b in place. When commit is true the document is written
// even if err is non-nil, so lazily applied policies survive a rejected action.
type MutateFunc func(b *Battle) (commit bool, err error)

// Update runs fn inside an optimistic transaction on the battle key and
// retries on a concurrent write. It returns the document as fn left it, the
// error fn returned and whether a write happened.
func (s *Store) Update(ctx context.Context, id string, fn MutateFunc) (*Battle, bool, error) {
	key := s.keyBattle(id)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var (
			out       *Battle
			fnErr     error
			committed bool
		)
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur Battle
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode battle %s: %w", id, err)
			}
			commit, ferr := fn(&cur)
			out, fnErr = &cur, ferr
			if !commit {
				return nil
			}
			cur.Version++
			newRaw, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, s.ttl)
			s.index(ctx, pipe, &cur)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			committed = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			obslog.Battle(id).Debug("battle_tx_retry", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if committed {
			s.publish(ctx, out)
		}
		return out, committed, fnErr
	}
	return nil, false, ErrConflict
}

// index keeps the lobby set and the per-user sets in step with the document.
func (s *Store) index(ctx context.Context, pipe redis.Pipeliner, b *Battle) {
	if b.Status == StatusWaiting {
		pipe.SAdd(ctx, s.keyWaiting(), b.ID)
	} else {
		pipe.SRem(ctx, s.keyWaiting(), b.ID)
	}
	for _, seat := range b.seats() {
		k := s.keyUserIdx(seat.UserID)
		pipe.SAdd(ctx, k, b.ID)
		pipe.Expire(ctx, k, s.ttl)
	}
}

func (s *Store) WaitingIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyWaiting()).Result()
}

func (s *Store) UserBattleIDs(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	return s.rdb.SMembers(ctx, s.keyUserIdx(userID)).Result()
}

// Forget drops a stale id from the lobby and the caller's index.
func (s *Store) Forget(ctx context.Context, id, userID string) {
	_ = s.rdb.SRem(ctx, s.keyWaiting(), id).Err()
	if userID != "" {
		_ = s.rdb.SRem(ctx, s.keyUserIdx(userID), id).Err()
	}
}

// TouchPresence records a heartbeat. The key outlives the stale threshold so
// a reader can still tell a recent visitor from one that never came back.
func (s *Store) TouchPresence(ctx context.Context, battleID, userID string, at time.Time, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.keyPresence(battleID, userID), at.UTC().Format(time.RFC3339Nano), ttl).Err()
}

// Presence returns the last heartbeat per user; users without a live key are absent.
func (s *Store) Presence(ctx context.Context, battleID string, userIDs ...string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, uid := range userIDs {
		keys[i] = s.keyPresence(battleID, uid)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if t, perr := time.Parse(time.RFC3339Nano, str); perr == nil {
			out[userIDs[i]] = t
		}
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, b *Battle) {
	v := b.View()
	if v == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, s.keyEvents(b.ID), raw).Err(); err != nil {
		obslog.Battle(b.ID).Warn("battle_publish_failed", zap.Error(err))
	}
}

// Subscription streams client views of one battle.
type Subscription struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
	C    <-chan []byte
}

func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}

// Subscribe waits for the SUBSCRIBE confirmation so no commit made after it
// returns can be missed.
func (s *Store) Subscribe(ctx context.Context, battleID string) (*Subscription, error) {
	ps := s.rdb.Subscribe(ctx, s.keyEvents(battleID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	out := make(chan []byte, 16)
	sub := &Subscription{ps: ps, done: make(chan struct{}), C: out}
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}
