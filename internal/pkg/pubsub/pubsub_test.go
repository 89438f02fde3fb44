package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionChanged_OmitEmpty(t *testing.T) {
	msg := &SubscriptionChanged{
		UserID:   1,
		ToStatus: "ACTIVE",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "user_id")
	assert.Contains(t, raw, "to_status")
	_, hasFrom := raw["from_status"]
	_, hasRemote := raw["remote_subscription_id"]
	assert.False(t, hasFrom, "empty from_status should be omitted")
	assert.False(t, hasRemote, "empty remote id should be omitted")
}

func TestPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *SubscriptionChanged, 1)
	go func() {
		subscriber.Subscribe(ctx, func(msg *SubscriptionChanged) {
			received <- msg
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("*")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	err = publisher.PublishChange(ctx, &SubscriptionChanged{
		EventID:              "evt_1",
		UserID:               7,
		SubscriptionID:       3,
		RemoteSubscriptionID: "sub_3",
		FromStatus:           "PENDING",
		ToStatus:             "ACTIVE",
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "subscription_changed", msg.Type)
		assert.Equal(t, int64(7), msg.UserID)
		assert.Equal(t, "sub_3", msg.RemoteSubscriptionID)
		assert.Equal(t, "ACTIVE", msg.ToStatus)
		assert.False(t, msg.OccurredAt.IsZero())
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

func TestNewPublisher(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	assert.NotNil(t, NewPublisher(client))
	assert.NotNil(t, NewSubscriber(client))
}
