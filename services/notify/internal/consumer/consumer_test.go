package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/metrics"
	"github.com/diagnosis/community-hub/services/notify/internal/mailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSubscriber struct {
	handlers map[string]func(*events.Message)
	queues   map[string]string
	err      error
}

func (f *fakeSubscriber) QueueSubscribe(subject, queue string, handler func(*events.Message)) error {
	if f.err != nil {
		return f.err
	}
	if f.handlers == nil {
		f.handlers = map[string]func(*events.Message){}
		f.queues = map[string]string{}
	}
	f.handlers[subject] = handler
	f.queues[subject] = queue
	return nil
}

func (f *fakeSubscriber) deliver(t *testing.T, subject string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	h, ok := f.handlers[subject]
	require.True(t, ok, "no handler for %s", subject)
	h(&events.Message{Subject: subject, Data: data, ID: "evt-1", Timestamp: time.Now()})
}

func setup(t *testing.T) (*fakeSubscriber, *fakeSender, *metrics.Metrics) {
	t.Helper()
	sub := &fakeSubscriber{}
	sender := &fakeSender{}
	m := metrics.New("notify")
	require.NoError(t, New(sub, sender, m, "notify-workers").Start())
	return sub, sender, m
}

func emailCount(t *testing.T, m *metrics.Metrics, template, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "notify_emails_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["template"] == template && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestStart_SubscribesWithQueue(t *testing.T) {
	sub, _, _ := setup(t)
	assert.Equal(t, "notify-workers", sub.queues[events.MagicLinkRequested])
	assert.Equal(t, "notify-workers", sub.queues[events.MemberCreated])
}

func TestStart_SubscribeError(t *testing.T) {
	err := New(&fakeSubscriber{err: errors.New("closed")}, &fakeSender{}, nil, "q").Start()
	assert.ErrorContains(t, err, events.MagicLinkRequested)
}

func TestHandleMagicLink_Sends(t *testing.T) {
	sub, sender, m := setup(t)
	sub.deliver(t, events.MagicLinkRequested, events.MagicLinkRequestedEvent{
		MemberID:  "m-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		Link:      "http://localhost:3000/auth/verify?token=abc",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Text, "token=abc")

	assert.Equal(t, 1.0, emailCount(t, m, "magic_link", "ok"))
}

func TestHandleMagicLink_SkipsExpired(t *testing.T) {
	sub, sender, _ := setup(t)
	sub.deliver(t, events.MagicLinkRequested, events.MagicLinkRequestedEvent{
		Email:     "ada@example.com",
		Link:      "http://x",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	assert.Empty(t, sender.sent)
}

func TestHandleMagicLink_Malformed(t *testing.T) {
	sub, sender, _ := setup(t)
	sub.handlers[events.MagicLinkRequested](&events.Message{Subject: events.MagicLinkRequested, Data: []byte("{not json")})
	assert.Empty(t, sender.sent)
}

func TestHandleMagicLink_SendFailureIsSwallowed(t *testing.T) {
	sub, sender, m := setup(t)
	sender.err = errors.New("smtp down")
	assert.NotPanics(t, func() {
		sub.deliver(t, events.MagicLinkRequested, events.MagicLinkRequestedEvent{
			Email:     "ada@example.com",
			Link:      "http://x",
			ExpiresAt: time.Now().Add(time.Minute),
		})
	})
	assert.Equal(t, 1.0, emailCount(t, m, "magic_link", "error"))
}

func TestHandleMemberCreated_SendsWelcome(t *testing.T) {
	sub, sender, _ := setup(t)
	sub.deliver(t, events.MemberCreated, events.MemberCreatedEvent{MemberID: "m-1", Email: "new@example.com", CreatedAt: time.Now()})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "new@example.com", sender.sent[0].To)
	assert.Equal(t, "Welcome to Community Hub", sender.sent[0].Subject)
}
