package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"whatsapp-inbox/pkg/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "conversation:42", ConversationTopic(42))
	assert.Equal(t, "user:agent@example.com", OperatorTopic("agent@example.com"))
	assert.Equal(t, "conversation.42", RoutingKey("conversation:42"))
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestFanoutPublishesToEverySink(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	boom := errors.New("sink down")
	fan := Fanout{first, failingPublisher{err: boom}, nil, second}

	err := fan.Publish(context.Background(), Event{Topic: TopicConversationList, Type: EventListUpdated})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := NewRedisPublisher(client, "whatsapp")
	sub := client.Subscribe(ctx, "whatsapp:conversation:7")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, Event{
		Topic: ConversationTopic(7),
		Type:  EventNewMessage,
		Data:  map[string]any{"body": "hello"},
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventNewMessage, got.Type)
	assert.Equal(t, "conversation:7", got.Topic)
}

func TestRedisPublisherReportsConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisPublisher(client, "").Publish(context.Background(), Event{Topic: "x"})
	assert.Error(t, err)
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp091.Publishing
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	pub := &AMQPPublisher{
		channel:  func() (amqpChannel, error) { return ch, nil },
		exchange: "whatsapp.events",
		log:      logging.Discard(),
	}

	require.NoError(t, pub.Publish(context.Background(), Event{
		Topic: OperatorTopic("agent"),
		Type:  EventNewMessage,
		Data:  map[string]string{"body": "hi"},
	}))

	assert.True(t, ch.closed)
	assert.Equal(t, "whatsapp.events", ch.exchange)
	assert.Equal(t, "user.agent", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)

	var env Envelope
	require.NoError(t, json.Unmarshal(ch.msg.Body, &env))
	assert.Equal(t, EventNewMessage, env.Meta.Type)
	assert.Equal(t, "user:agent", env.Meta.Topic)
	assert.Equal(t, ch.msg.MessageId, env.Meta.ID)
	assert.NotEmpty(t, env.Meta.ID)
}

func TestAMQPPublisherChannelError(t *testing.T) {
	pub := &AMQPPublisher{
		channel: func() (amqpChannel, error) { return nil, errors.New("connection closed") },
		log:     logging.Discard(),
	}
	assert.Error(t, pub.Publish(context.Background(), Event{Topic: "x"}))
}
