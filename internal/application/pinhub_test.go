package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/authenticator/internal/application"
	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

func receive(t *testing.T, sub *application.PinSubscription) model.PinEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return model.PinEvent{}
	}
}

func TestPinHub_FansOut(t *testing.T) {
	hub := application.NewPinHub(4)
	defer hub.Close()

	a := hub.Subscribe(context.Background())
	b := hub.Subscribe(context.Background())
	require.Equal(t, 2, hub.Subscribers())

	hub.Publish(model.PinEvent{AccountID: "x", Pin: "123456"})

	assert.Equal(t, "123456", receive(t, a).Pin)
	assert.Equal(t, "123456", receive(t, b).Pin)
}

func TestPinHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := application.NewPinHub(1)
	defer hub.Close()

	sub := hub.Subscribe(context.Background())

	hub.Publish(model.PinEvent{AccountID: "x", Pin: "1"})
	hub.Publish(model.PinEvent{AccountID: "x", Pin: "2"})
	hub.Publish(model.PinEvent{AccountID: "x", Pin: "3"})

	assert.Equal(t, "1", receive(t, sub).Pin)
	assert.Equal(t, uint64(2), hub.Dropped())
}

func TestPinHub_ContextCancelUnsubscribes(t *testing.T) {
	hub := application.NewPinHub(1)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPinHub_CloseEndsSubscriptions(t *testing.T) {
	hub := application.NewPinHub(1)
	sub := hub.Subscribe(context.Background())

	hub.Close()
	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())

	// Publishing and subscribing after close are harmless.
	hub.Publish(model.PinEvent{AccountID: "x"})
	late := hub.Subscribe(context.Background())
	_, ok = <-late.Events()
	assert.False(t, ok)
}

func TestPinSubscription_CloseTwice(t *testing.T) {
	hub := application.NewPinHub(1)
	defer hub.Close()

	sub := hub.Subscribe(context.Background())
	sub.Close()
	sub.Close()

	assert.Zero(t, hub.Subscribers())
}
