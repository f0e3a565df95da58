// Package consumer turns auth events into outgoing e-mails.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	"github.com/diagnosis/community-hub/services/notify/internal/mailer"
)

const sendTimeout = 20 * time.Second

type Consumer struct {
	sub     events.Subscriber
	sender  mailer.Sender
	metrics *metrics.Metrics
	queue   string
	now     func() time.Time
}

func New(sub events.Subscriber, sender mailer.Sender, m *metrics.Metrics, queue string) *Consumer {
	return &Consumer{sub: sub, sender: sender, metrics: m, queue: queue, now: time.Now}
}

// Start registers queue subscriptions. Workers sharing a queue name split
// the messages between them, so each e-mail goes out once.
func (c *Consumer) Start() error {
	if err := c.sub.QueueSubscribe(events.MagicLinkRequested, c.queue, c.HandleMagicLink); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.MagicLinkRequested, err)
	}
	if err := c.sub.QueueSubscribe(events.MemberCreated, c.queue, c.HandleMemberCreated); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.MemberCreated, err)
	}
	return nil
}

func (c *Consumer) HandleMagicLink(msg *events.Message) {
	var evt events.MagicLinkRequestedEvent
	if err := msg.Decode(&evt); err != nil {
		logger.Error("Dropping malformed event", "subject", msg.Subject, "event_id", msg.ID, "error", err)
		c.metrics.Email("magic_link", err)
		return
	}

	now := c.now()
	if !evt.ExpiresAt.After(now) {
		logger.Warn("Skipping expired magic link", "event_id", msg.ID, "member_id", evt.MemberID)
		return
	}

	c.send(msg, "magic_link", mailer.MagicLink(evt.Email, evt.FirstName, evt.Link, evt.ExpiresAt, now))
}

func (c *Consumer) HandleMemberCreated(msg *events.Message) {
	var evt events.MemberCreatedEvent
	if err := msg.Decode(&evt); err != nil {
		logger.Error("Dropping malformed event", "subject", msg.Subject, "event_id", msg.ID, "error", err)
		c.metrics.Email("welcome", err)
		return
	}
	c.send(msg, "welcome", mailer.Welcome(evt.Email))
}

func (c *Consumer) send(msg *events.Message, template string, email mailer.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := c.sender.Send(ctx, email)
	c.metrics.Email(template, err)
	if err != nil {
		logger.Error("Failed to send email", "template", template, "event_id", msg.ID, "error", err)
		return
	}
	logger.Info("Email sent", "template", template, "event_id", msg.ID)
}
