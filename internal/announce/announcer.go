// Package announce publishes applied changes to NATS JetStream so external
// consumers (CI bots, dashboards) can follow the context stream without
// holding a websocket connection. Publishing is best effort: a broker
// outage never fails or delays a write.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/contexthub/internal/config"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
)

// Announcer owns the broker connection and the change stream.
type Announcer struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// New connects to the broker and ensures the change stream exists.
// Callers should treat a nil Announcer as "announcements disabled".
func New(cfg *config.NATSConfig) (*Announcer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	a := &Announcer{conn: conn, js: js, subject: cfg.Subject}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure change stream: %w", err)
	}

	slog.Info("change announcements enabled",
		slog.String("url", cfg.URL), slog.String("stream", cfg.Stream))
	return a, nil
}

// Publish sends one envelope on "<subject>.<owner>". Errors are logged and
// swallowed; the durable record is the store, not the broker.
func (a *Announcer) Publish(ctx context.Context, owner string, msg protocol.Message) {
	if a == nil {
		return
	}
	raw, err := protocol.Encode(msg)
	if err != nil {
		slog.Warn("encode announcement", logfields.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.js.Publish(pubCtx, a.subject+"."+owner, raw); err != nil {
		slog.Warn("publish announcement",
			logfields.OwnerID(owner), logfields.Error(err))
	}
}

// Close drains the connection.
func (a *Announcer) Close() {
	if a == nil || a.conn == nil {
		return
	}
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
	}
}
