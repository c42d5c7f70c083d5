package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	DefaultPGChannel = "goal_changes"
	OriginPostgres   = "postgres"
)

// PGListener turns notifications raised by the goals trigger into changes, so writes
// made by any process against the database are observed. It holds one dedicated
// connection and reconnects with exponential backoff.
type PGListener struct {
	dsn        string
	channel    string
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPGListener(dsn string, logger *slog.Logger) *PGListener {
	return &PGListener{
		dsn:        dsn,
		channel:    DefaultPGChannel,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Listen blocks until ctx is done. After every reconnect h receives a resync change
// because notifications raised while disconnected are not replayed.
func (l *PGListener) Listen(ctx context.Context, h Handler) error {
	backoff := l.minBackoff
	connectedBefore := false
	for {
		connected, err := l.listenOnce(ctx, h, connectedBefore)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			connectedBefore = true
			backoff = l.minBackoff
		}
		l.logger.Warn("postgres change listener disconnected", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

func (l *PGListener) listenOnce(ctx context.Context, h Handler, resync bool) (bool, error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("postgres change listener ready", "channel", l.channel)
	if resync {
		h(Resync(OriginPostgres, time.Now()))
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		var change Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			l.logger.Warn("dropping malformed notification", "channel", n.Channel, "error", err)
			continue
		}
		h(change)
	}
}
