package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitRunsHandlersInRegistrationOrder(t *testing.T) {
	em := New()
	var got []int

	em.Subscribe("tick", func(any) { got = append(got, 1) })
	em.Subscribe("tick", func(any) { got = append(got, 2) })
	em.Subscribe("tick", func(any) { got = append(got, 3) })

	em.Emit("tick", nil)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestEmitPassesPayload(t *testing.T) {
	em := New()
	var got any
	em.Subscribe("msg", func(payload any) { got = payload })

	em.Emit("msg", "hello")
	assert.Equal(t, "hello", got)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	em := New()
	var a, b int
	tok := em.Subscribe("tick", func(any) { a++ })
	em.Subscribe("tick", func(any) { b++ })

	em.Emit("tick", nil)
	em.Unsubscribe(tok)
	em.Emit("tick", nil)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestEmitWithNoHandlersIsNoop(t *testing.T) {
	em := New()
	assert.NotPanics(t, func() { em.Emit("nothing", 42) })
}

func TestHandlerMaySubscribeReentrantly(t *testing.T) {
	em := New()
	var nested bool
	em.Subscribe("tick", func(any) {
		em.Subscribe("tick", func(any) { nested = true })
	})

	em.Emit("tick", nil)
	assert.False(t, nested, "newly added handler must not run for the emit that added it")
	em.Emit("tick", nil)
	assert.True(t, nested)
}
