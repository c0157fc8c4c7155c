package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"simcal/internal/events"
)

func TestTopicDeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	var topic events.Topic[int]
	var got []string

	topic.Subscribe(func(v int) { got = append(got, "first") })
	topic.Subscribe(func(v int) { got = append(got, "second") })
	topic.Publish(1)

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestTopicUnsubscribe(t *testing.T) {
	t.Parallel()

	var topic events.Topic[string]
	var got []string

	unsubscribe := topic.Subscribe(func(v string) { got = append(got, v) })
	topic.Publish("a")
	unsubscribe()
	unsubscribe()
	topic.Publish("b")

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 0, topic.Len())
}

func TestTopicHandlerMayUnsubscribeItself(t *testing.T) {
	t.Parallel()

	var topic events.Topic[int]
	calls := 0
	var unsubscribe func()
	unsubscribe = topic.Subscribe(func(int) {
		calls++
		unsubscribe()
	})

	topic.Publish(1)
	topic.Publish(2)
	assert.Equal(t, 1, calls)
}
