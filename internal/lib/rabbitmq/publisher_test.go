package rabbitmq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (c *recordingChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func TestPublishMessage(t *testing.T) {
	type testMsg struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	t.Run("publishes persistent json", func(t *testing.T) {
		ch := &recordingChannel{}
		require.NoError(t, PublishMessage(ch, "subscriptions", "subscription.activated", testMsg{ID: 1, Name: "Hello"}))

		assert.Equal(t, "subscriptions", ch.exchange)
		assert.Equal(t, "subscription.activated", ch.key)
		assert.Equal(t, "application/json", ch.msg.ContentType)
		assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

		var got testMsg
		require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
		assert.Equal(t, testMsg{ID: 1, Name: "Hello"}, got)
	})

	t.Run("marshal error", func(t *testing.T) {
		err := PublishMessage(&recordingChannel{}, "", "q", struct {
			Ch chan int `json:"ch"`
		}{Ch: make(chan int)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
	})

	t.Run("channel error", func(t *testing.T) {
		boom := errors.New("channel closed")
		err := PublishMessage(&recordingChannel{err: boom}, "x", "k", map[string]bool{"ok": true})
		require.ErrorIs(t, err, boom)
	})
}
