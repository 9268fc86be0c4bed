// ABOUTME: RabbitMQ publisher for wallet resync jobs
// ABOUTME: Declares a durable topic exchange and publishes persistent JSON messages

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange receives resync jobs.
	DefaultExchange = "corp.events"

	// DefaultRoutingKey is the routing key of wallet-linked messages.
	DefaultRoutingKey = "wallet.linked"
)

// ResyncMessage is the JSON body of a published job.
type ResyncMessage struct {
	Event       string    `json:"event"`
	Wallet      string    `json:"wallet"`
	GroupID     string    `json:"group_id,omitempty"`
	ForceResync bool      `json:"force_resync"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a channel and returns it with a func closing the connection.
type dialer func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}
	return ch, conn.Close, nil
}

// AMQPConfig configures an AMQPPublisher.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPPublisher publishes resync jobs to RabbitMQ. The connection is opened
// on first use and reopened after a failed publish.
type AMQPPublisher struct {
	cfg    AMQPConfig
	dial   dialer
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewAMQPPublisher creates a publisher. It does not connect until the first
// notification.
func NewAMQPPublisher(cfg AMQPConfig) *AMQPPublisher {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	return &AMQPPublisher{
		cfg:    cfg,
		dial:   dialAMQP,
		now:    time.Now,
		logger: slog.Default().With("component", "notify"),
	}
}

// NotifyWalletLinked publishes a ResyncMessage for wallet, reconnecting
// first if the previous publish failed.
func (p *AMQPPublisher) NotifyWalletLinked(ctx context.Context, wallet string, opts Options) error {
	body, err := json.Marshal(ResyncMessage{
		Event:       DefaultRoutingKey,
		Wallet:      wallet,
		GroupID:     opts.GroupID,
		ForceResync: opts.ForceResync,
		OccurredAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding resync message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publishing resync for %s: %w", wallet, err)
	}

	p.logger.Debug("resync published", "wallet", wallet, "exchange", p.cfg.Exchange)
	return nil
}

func (p *AMQPPublisher) channelLocked() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, closeConn, err := p.dial(p.cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return nil, fmt.Errorf("declaring exchange %s: %w", p.cfg.Exchange, err)
	}
	p.ch, p.closeConn = ch, closeConn
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

// Close closes the broker connection if one is open.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
