package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
}

type EventBus interface {
	Publisher
	Subscriber
	Close() error
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Subject, err)
	}
	return nil
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		msg.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.PublishMsg(msg)
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		id := msg.Header.Get(nats.MsgIdHdr)
		if id == "" {
			id = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        id,
		})
	})
	return err
}

// Close drains subscriptions so in-flight handlers finish before the
// connection goes away.
func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

// Event subjects
const (
	MagicLinkRequested = "auth.magic_link.requested"
	MemberCreated      = "member.created"
	MembershipUpdated  = "membership.updated"
)

// Event payloads
type MagicLinkRequestedEvent struct {
	MemberID  string    `json:"member_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type MemberCreatedEvent struct {
	MemberID  string    `json:"member_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type MembershipUpdatedEvent struct {
	MembershipID string    `json:"membership_id"`
	MemberID     string    `json:"member_id"`
	CommunityID  string    `json:"community_id"`
	Status       string    `json:"status"`
	Role         string    `json:"role,omitempty"`
	UpdatedBy    string    `json:"updated_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}
