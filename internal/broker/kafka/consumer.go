package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/BearBump/shipledger/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var errMalformed = errors.New("malformed shipment message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Position is where a committed message sat in the log.
type Position struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	At        time.Time `json:"at"`
}

type ConsumerStats struct {
	Committed     int64     `json:"committed"`
	Malformed     int64     `json:"malformed"`
	LastCommitted *Position `json:"lastCommitted,omitempty"`
}

// ShipmentConsumer reads ShipmentUpdated messages from a consumer group.
// A message is committed only after the handler succeeded or the message was
// rejected as malformed; a handler error stops consumption uncommitted.
type ShipmentConsumer struct {
	r   messageReader
	log *zap.Logger

	committed     atomic.Int64
	malformed     atomic.Int64
	lastCommitted atomic.Pointer[Position]
}

func NewShipmentConsumer(brokers []string, topic, groupID string) *ShipmentConsumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newShipmentConsumerWithReader(kafka.NewReader(cfg))
}

func newShipmentConsumerWithReader(r messageReader) *ShipmentConsumer {
	return &ShipmentConsumer{r: r, log: zap.NewNop()}
}

func (c *ShipmentConsumer) WithLogger(l *zap.Logger) *ShipmentConsumer {
	if l != nil {
		c.log = l
	}
	return c
}

func (c *ShipmentConsumer) Close() error {
	return c.r.Close()
}

func (c *ShipmentConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		Committed:     c.committed.Load(),
		Malformed:     c.malformed.Load(),
		LastCommitted: c.lastCommitted.Load(),
	}
}

func (c *ShipmentConsumer) ConsumeShipmentUpdates(ctx context.Context, handle func(ctx context.Context, m messages.ShipmentUpdated) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		m, err := decodeShipmentUpdated(msg)
		if err != nil {
			// битое сообщение коммитим, иначе оно навсегда заблокирует партицию
			c.malformed.Add(1)
			c.log.Warn("skip malformed shipment message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else if err := handle(ctx, m); err != nil {
			return errors.Wrapf(err, "handle %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
		c.committed.Add(1)
		c.lastCommitted.Store(&Position{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			At:        time.Now().UTC(),
		})
	}
}

// decodeShipmentUpdated rejects bodies that are not JSON, have no tracking
// id, or whose key names a different shipment than the body.
func decodeShipmentUpdated(msg kafka.Message) (messages.ShipmentUpdated, error) {
	var m messages.ShipmentUpdated
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return m, errors.Wrap(errMalformed, err.Error())
	}
	if m.TrackingID == "" {
		return m, errors.Wrap(errMalformed, "empty tracking_id")
	}
	if len(msg.Key) > 0 && string(msg.Key) != m.TrackingID {
		return m, errors.Wrapf(errMalformed, "key %q does not match tracking_id %q", msg.Key, m.TrackingID)
	}
	return m, nil
}
