// Package notify delivers realtime change events to UI and downstream
// consumers. Publishing is advisory: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

const (
	TopicConversationList = "conversation_list"

	EventNewMessage     = "new_message"
	EventMessageUpdated = "message_updated"
	EventListUpdated    = "latest_chat_updates"
	EventFlowResponse   = "flow_response"
	EventStatusUpdate   = "message_status"
)

// Event is one realtime notification.
type Event struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

func ConversationTopic(contactID uint) string {
	return "conversation:" + strconv.FormatUint(uint64(contactID), 10)
}

func OperatorTopic(operator string) string {
	return "user:" + operator
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByTopic filters recorded events.
func (r *Recorder) ByTopic(topic string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
