package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/candleclock"
)

// DefaultPGChannel is the NOTIFY channel hints travel on.
const DefaultPGChannel = "candleclock_hints"

// Postgres broadcasts hints with pg_notify over the store's own pool, so
// clustered deployments need no second system beside the database. The
// listening side holds a dedicated connection (LISTEN pins one).
type Postgres struct {
	db      *sql.DB
	dsn     string
	channel string
	refresh *rate.Limiter
}

var _ candleclock.Broadcaster = (*Postgres)(nil)

// NewPostgres builds the transport. db carries outgoing notifies; dsn
// opens the dedicated listen connection.
func NewPostgres(db *sql.DB, dsn, channel string) (*Postgres, error) {
	if channel == "" {
		channel = DefaultPGChannel
	}
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	return &Postgres{
		db:      db,
		dsn:     dsn,
		channel: channel,
		refresh: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}, nil
}

func (p *Postgres) NotifyExpiry(ctx context.Context, at time.Time) error {
	payload, err := encodeExpiry(at)
	if err != nil {
		return fmt.Errorf("cluster: encode hint: %w", err)
	}
	return p.notify(ctx, payload)
}

func (p *Postgres) NotifyRefresh(ctx context.Context) error {
	if !p.refresh.Allow() {
		return nil
	}
	payload, err := encodeRefresh()
	if err != nil {
		return fmt.Errorf("cluster: encode hint: %w", err)
	}
	return p.notify(ctx, payload)
}

func (p *Postgres) notify(ctx context.Context, payload []byte) error {
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("cluster: pg_notify %s: %w", p.channel, err)
	}
	return nil
}

// Listen consumes notifications and forwards them until ctx is
// cancelled. After a reconnect the listener may have missed messages, so
// it forces a refresh instead of trusting the gap.
func (p *Postgres) Listen(ctx context.Context, h Hinter) error {
	l := pq.NewListener(p.dsn, time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("cluster: listener event", "channel", p.channel, "error", err)
		}
	})
	defer l.Close()

	if err := l.Listen(p.channel); err != nil {
		return fmt.Errorf("cluster: listen %s: %w", p.channel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			if n == nil {
				// Connection re-established; anything sent meanwhile is gone.
				h.Refresh()
				continue
			}
			deliver([]byte(n.Extra), h)
		case <-time.After(90 * time.Second):
			go l.Ping()
		}
	}
}
