package event

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/resource"
)

func TestPublisher_SubscribeAll(t *testing.T) {
	pub := NewPublisher(slog.Default(), nil)

	var received []Type
	pub.Subscribe(func(ev Event) {
		received = append(received, ev.EventType())
	})

	pub.Publish(NewNodeRegistered("node-1", "producer", []resource.Type{resource.Minerals}))
	pub.Publish(NewConnectionUnregistered("conn-1"))

	require.Len(t, received, 2)
	assert.Equal(t, TypeNodeRegistered, received[0])
	assert.Equal(t, TypeConnectionUnregistered, received[1])
}

func TestPublisher_SubscribeByType(t *testing.T) {
	pub := NewPublisher(slog.Default(), nil)

	var started int
	pub.Subscribe(func(Event) { started++ }, TypeConversionStarted)

	pub.Publish(NewConversionStarted("proc-1", "recipe-1", "conv-1", 1.0))
	pub.Publish(NewConversionCompleted("proc-1", "recipe-1", "conv-1", nil, nil, 1.0))

	assert.Equal(t, 1, started)
}

func TestPublisher_Unsubscribe(t *testing.T) {
	pub := NewPublisher(slog.Default(), nil)

	var count int
	unsub := pub.Subscribe(func(Event) { count++ }, TypeNodeRegistered)

	pub.Publish(NewNodeRegistered("node-1", "producer", nil))
	unsub()
	pub.Publish(NewNodeRegistered("node-2", "producer", nil))

	assert.Equal(t, 1, count)
}

func TestPublisher_OrderingPreserved(t *testing.T) {
	pub := NewPublisher(slog.Default(), nil)

	var order []string
	pub.Subscribe(func(ev Event) {
		switch e := ev.(type) {
		case NodeRegistered:
			order = append(order, e.NodeID)
		}
	}, TypeNodeRegistered)

	for _, id := range []string{"a", "b", "c", "d"} {
		pub.Publish(NewNodeRegistered(id, "producer", nil))
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestPublisher_HandlerPanicIsolated(t *testing.T) {
	pub := NewPublisher(slog.Default(), nil)

	var survived bool
	pub.Subscribe(func(Event) { panic("boom") }, TypeNodeRegistered)
	pub.Subscribe(func(Event) { survived = true }, TypeNodeRegistered)

	require.NotPanics(t, func() {
		pub.Publish(NewNodeRegistered("node-1", "producer", nil))
	})
	assert.True(t, survived)
}

func TestPublisher_NilSafety(t *testing.T) {
	pub := NewPublisher(nil, nil)

	require.NotPanics(t, func() {
		pub.Publish(nil)
		unsub := pub.Subscribe(nil)
		unsub()
	})
}
