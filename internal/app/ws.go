package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goalsync/api/internal/goals"
	"goalsync/api/internal/store"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamReadLimit  = 64 << 10
	streamOutbox     = 16
)

// Frames sent to stream clients.
type snapshotFrame struct {
	Type    string       `json:"type"`
	Seq     uint64       `json:"seq"`
	Goals   []store.Goal `json:"goals"`
	Pending []string     `json:"pending"`
}

type transitionFrame struct {
	Type   string                 `json:"type"`
	Result goals.TransitionResult `json:"result"`
	Error  map[string]any         `json:"error,omitempty"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type clientMessage struct {
	Type   string       `json:"type"`
	GoalID string       `json:"goalId"`
	From   store.Status `json:"from"`
	To     store.Status `json:"to"`
}

// handleStream upgrades to a websocket that carries one subscription. Every
// connection has its own board so optimistic drops are only shown to the client that
// made them until the store confirms.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sel, err := selectorFromQuery(r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub, err := s.service.SubscribeGoals(ctx, sel)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	st := &streamSession{
		conn:    conn,
		service: s.service,
		sub:     sub,
		board:   goals.NewBoard(sub.Initial()),
		out:     make(chan any, streamOutbox),
		logger:  s.logger.With("request_id", RequestID(r.Context()), "organization_id", sel.OrganizationID, "timeframe", sel.Timeframe),
	}
	st.run(ctx, cancel)
}

type streamSession struct {
	conn    *websocket.Conn
	service *Service
	sub     *goals.Subscription
	board   *goals.Board
	out     chan any
	logger  *slog.Logger
	drops   sync.WaitGroup
}

func (st *streamSession) run(ctx context.Context, cancel context.CancelFunc) {
	st.logger.Info("stream opened")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		st.writeLoop(ctx)
	}()

	st.send(ctx, st.snapshot(st.board.Goals()))
	st.board.OnChange(func(visible []store.Goal) {
		st.send(ctx, st.snapshot(visible))
	})

	go func() {
		defer wg.Done()
		defer cancel()
		st.pump(ctx)
	}()

	st.readLoop(ctx)
	cancel()
	st.sub.Cancel()
	wg.Wait()
	st.drops.Wait()
	st.logger.Info("stream closed")
}

func (st *streamSession) snapshot(visible []store.Goal) snapshotFrame {
	pending := []string{}
	for _, g := range visible {
		if st.board.Pending(g.ID) {
			pending = append(pending, g.ID)
		}
	}
	return snapshotFrame{Type: "snapshot", Seq: st.board.Seq(), Goals: visible, Pending: pending}
}

// send queues a frame for the writer. It blocks while the outbox is full, which in turn
// lets the subscription drop its oldest undelivered snapshot.
func (st *streamSession) send(ctx context.Context, frame any) {
	select {
	case st.out <- frame:
	case <-ctx.Done():
	}
}

func (st *streamSession) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-st.sub.C():
			if !ok {
				return
			}
			if snap.Err != nil {
				st.send(ctx, errorFrame{Type: "error", Code: "STORE_UNAVAILABLE", Error: "refresh failed", Retryable: true})
				continue
			}
			st.board.Apply(snap)
		}
	}
}

func (st *streamSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	defer st.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = st.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		case frame := <-st.out:
			_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := st.conn.WriteJSON(frame); err != nil {
				st.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := st.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (st *streamSession) readLoop(ctx context.Context) {
	st.conn.SetReadLimit(streamReadLimit)
	_ = st.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	st.conn.SetPongHandler(func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		var msg clientMessage
		if err := st.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.logger.Debug("stream read failed", "error", err)
			}
			return
		}
		_ = st.conn.SetReadDeadline(time.Now().Add(streamPongWait))

		switch msg.Type {
		case "drop":
			st.drops.Add(1)
			go func() {
				defer st.drops.Done()
				st.drop(ctx, msg)
			}()
		case "refresh":
			st.sub.Refresh()
		default:
			st.send(ctx, errorFrame{Type: "error", Code: "UNKNOWN_MESSAGE", Error: "unknown message type " + msg.Type})
		}
	}
}

func (st *streamSession) drop(ctx context.Context, msg clientMessage) {
	result, err := st.service.DropGoal(ctx, msg.GoalID, msg.From, msg.To, st.board)
	frame := transitionFrame{Type: "transition", Result: result}
	if err != nil {
		_, code, message, details := mapError(err)
		frame.Error = map[string]any{"code": code, "error": message}
		if details != nil {
			frame.Error["details"] = details
		}
	}
	st.send(ctx, frame)
}
