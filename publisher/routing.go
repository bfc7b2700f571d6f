package publisher

import (
	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/event"
)

// TopicRouting maps events to topics. An empty topic means the kind is not
// published.
type TopicRouting struct {
	account     string
	slot        string
	transaction string
	overrides   map[solana.PublicKey]string
}

// NewTopicRouting builds routing from the global topics and the account
// topic overrides
func NewTopicRouting(c *cfg.Configuration) (*TopicRouting, error) {
	overrides, err := c.AccountTopicOverrides()
	if err != nil {
		return nil, err
	}
	return &TopicRouting{
		account:     c.UpdateAccountTopic,
		slot:        c.SlotStatusTopic,
		transaction: c.TransactionTopic,
		overrides:   overrides,
	}, nil
}

// Wants reports whether kind has a topic
func (r *TopicRouting) Wants(kind event.Kind) bool {
	return r.Topic(kind) != ""
}

// Topic returns the default topic of kind
func (r *TopicRouting) Topic(kind event.Kind) string {
	switch kind {
	case event.KindAccount:
		return r.account
	case event.KindSlot:
		return r.slot
	case event.KindTransaction:
		return r.transaction
	default:
		return ""
	}
}

// AccountTopic returns the topic for an account owned by owner. Overrides
// only apply while account updates are published at all.
func (r *TopicRouting) AccountTopic(owner solana.PublicKey) string {
	if r.account == "" {
		return ""
	}
	if topic, ok := r.overrides[owner]; ok {
		return topic
	}
	return r.account
}

// TopicFor returns the topic ev is published to
func (r *TopicRouting) TopicFor(ev event.Event) string {
	if acc, ok := ev.(*event.AccountUpdate); ok {
		return r.AccountTopic(acc.Owner)
	}
	if ev == nil {
		return ""
	}
	return r.Topic(ev.Kind())
}
