package cardsclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/obslog"
)

type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type BattleCallback func(b *battle.Battle)

type StateCallback func(state StreamState)

// Stream follows one battle over the subscription socket and redials with
// backoff when the connection drops. Every (re)connect starts with the
// server's current view, so callers never miss a commit across a reconnect.
type Stream struct {
	wsURL string
	token TokenProvider

	mu       sync.Mutex
	conn     *websocket.Conn
	state    StreamState
	onBattle []BattleCallback
	onState  []StateCallback

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// Stream builds a subscription for battleID using the client's base URL and token.
func (c *Client) Stream(battleID string, maxReconnectAttempts int) *Stream {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &Stream{
		wsURL:                base + "/api/subscribe/battle/" + url.PathEscape(battleID),
		token:                c.token,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

func (s *Stream) OnBattle(cb BattleCallback) {
	s.mu.Lock()
	s.onBattle = append(s.onBattle, cb)
	s.mu.Unlock()
}

func (s *Stream) OnStateChange(cb StateCallback) {
	s.mu.Lock()
	s.onState = append(s.onState, cb)
	s.mu.Unlock()
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials once. On failure it still schedules background redials
// when reconnects are enabled.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StreamConnected || s.state == StreamConnecting {
		s.mu.Unlock()
		return nil
	}
	if s.rootCtx == nil {
		s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	s.setState(StreamConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StreamFailed)
		s.scheduleReconnect()
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	hdr := http.Header{}
	if s.token != nil {
		if tok := strings.TrimSpace(s.token()); tok != "" {
			hdr.Set("Authorization", "Bearer "+tok)
		}
	}
	conn, _, err := websocket.Dial(dialCtx, s.wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (s *Stream) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StreamConnected)

	s.wg.Add(2)
	go s.listen(conn)
	go s.pingLoop(conn)
}

func (s *Stream) listen(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		var b battle.Battle
		if err := wsjson.Read(s.rootCtx, conn, &b); err != nil {
			if s.isStopping() {
				return
			}
			status := websocket.CloseStatus(err)
			s.dropConn(conn)
			if status == websocket.StatusNormalClosure || status == websocket.StatusPolicyViolation {
				s.setState(StreamDisconnected)
				return
			}
			obslog.L().Debug("cards_stream_read_failed", zap.String("url", s.wsURL), zap.Error(err))
			s.setState(StreamDisconnected)
			s.scheduleReconnect()
			return
		}

		s.mu.Lock()
		cbs := append([]BattleCallback(nil), s.onBattle...)
		s.mu.Unlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(&b)
			}
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			if !s.isCurrent(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// closing the conn makes listen fail and redial
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Stream) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 || s.isStopping() {
		return
	}
	s.setState(StreamReconnecting)

	go func() {
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := s.dial(s.rootCtx)
			if err != nil {
				obslog.L().Debug("cards_stream_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if s.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			s.attach(conn)
			return
		}
		s.setState(StreamFailed)
	}()
}

func (s *Stream) setState(state StreamState) {
	s.mu.Lock()
	s.state = state
	cbs := append([]StateCallback(nil), s.onState...)
	s.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(state)
		}
	}
}

func (s *Stream) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Stream) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.CloseNow()
}

func (s *Stream) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	cancel := s.rootCancel
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.setState(StreamDisconnected)
		return nil
	}
}

func (s *Stream) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
