// Package notify publishes a summary of every committed batch.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/nats-io/nats.go"
)

const connectTimeout = 5 * time.Second

// Summary describes one committed batch.
type Summary struct {
	Process     string         `json:"process"`
	FromHeight  uint64         `json:"from_height"`
	ToHeight    uint64         `json:"to_height"`
	BlockHash   string         `json:"block_hash"`
	Receipts    int            `json:"receipts"`
	Applied     int            `json:"applied"`
	Failed      int            `json:"failed"`
	Entities    map[string]int `json:"entities"`
	CommittedAt time.Time      `json:"committed_at"`
}

// Notifier publishes batch summaries. Failures are reported but never block indexing.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
	Close() error
}

// New creates the notifier configured by cfg. A nil or disabled config yields a no-op notifier.
func New(cfg *config.NotifyConfig, log *logger.Logger) (Notifier, error) {
	if cfg == nil || !cfg.Enabled {
		return Nop{}, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("starboard-indexor"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	return newNATSNotifier(conn, cfg.Subject, log), nil
}

// Nop discards every summary.
type Nop struct{}

func (Nop) Notify(context.Context, Summary) error { return nil }
func (Nop) Close() error                          { return nil }

// publisher is the subset of *nats.Conn the notifier uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSNotifier publishes JSON summaries on a NATS subject.
type NATSNotifier struct {
	conn    publisher
	subject string
	log     *logger.Logger
}

func newNATSNotifier(conn publisher, subject string, log *logger.Logger) *NATSNotifier {
	return &NATSNotifier{
		conn:    conn,
		subject: subject,
		log:     log.WithComponent(common.ComponentNotifier),
	}
}

// Notify publishes summary. Publishing is fire-and-forget on the NATS connection.
func (n *NATSNotifier) Notify(ctx context.Context, summary Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(summary)
	if err != nil {
		metrics.NotificationInc("error")
		return fmt.Errorf("failed to marshal batch summary: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		metrics.NotificationInc("error")
		return fmt.Errorf("failed to publish batch summary on %s: %w", n.subject, err)
	}

	metrics.NotificationInc("ok")
	n.log.Debugw("published batch summary",
		"subject", n.subject,
		"from", summary.FromHeight,
		"to", summary.ToHeight,
		"applied", summary.Applied,
	)

	return nil
}

// Close closes the connection.
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
