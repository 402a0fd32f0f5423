package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusFansOut(t *testing.T) {
	bus := NewBus()

	var first, second []StateChange
	bus.Subscribe(func(ev StateChange) { first = append(first, ev) })
	bus.Subscribe(func(ev StateChange) { second = append(second, ev) })

	ev := StateChange{Channel: "orders", Old: "STOPPED", New: "STARTING"}
	bus.Publish(ev)

	assert.Equal(t, []StateChange{ev}, first)
	assert.Equal(t, []StateChange{ev}, second)
}

func TestBusWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Publish(StateChange{Channel: "orders"})
	})
}
