package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector(buffer int) (Listener, <-chan Event) {
	events := make(chan Event, buffer)
	return ListenerFunc(func(e Event) error {
		events <- e
		return nil
	}), events
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestReporter_DeliversInOrder(t *testing.T) {
	reporter := NewReporter(8)
	defer reporter.Close()

	listener, events := collector(8)
	reporter.Register("s1", listener)

	reporter.Notify("s1", CodeStarting)
	reporter.Notify("s1", CodeRunning)
	reporter.Notify("s1", CodeStopped)

	assert.Equal(t, Event{SessionID: "s1", Type: EventStatus, Code: CodeStarting}, receive(t, events))
	assert.Equal(t, Event{SessionID: "s1", Type: EventStatus, Code: CodeRunning}, receive(t, events))
	assert.Equal(t, Event{SessionID: "s1", Type: EventStatus, Code: CodeStopped}, receive(t, events))
	assert.Zero(t, reporter.Dropped())
}

func TestReporter_CodeValues(t *testing.T) {
	assert.Equal(t, 1, int(EventStatus))
	assert.Equal(t, 1, int(CodeStarting))
	assert.Equal(t, 2, int(CodeRunning))
	assert.Equal(t, 4, int(CodeStopped))
	assert.Equal(t, "stopped", CodeStopped.String())
	assert.Equal(t, "Code(3)", Code(3).String())
}

func TestReporter_UnknownSessionIsDropped(t *testing.T) {
	reporter := NewReporter(4)
	defer reporter.Close()

	reporter.Notify("nobody", CodeRunning)

	assert.Equal(t, int64(1), reporter.Dropped())
}

func TestReporter_FullQueueDropsWithoutBlocking(t *testing.T) {
	reporter := NewReporter(1)
	defer reporter.Close()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	delivered := make(chan Event, 4)
	reporter.Register("s1", ListenerFunc(func(e Event) error {
		entered <- struct{}{}
		<-release
		delivered <- e
		return nil
	}))

	reporter.Notify("s1", CodeStarting)
	<-entered // the listener now holds the first event

	done := make(chan struct{})
	go func() {
		reporter.Notify("s1", CodeRunning) // fills the queue
		reporter.Notify("s1", CodeStopped) // overflows
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow listener")
	}
	assert.Equal(t, int64(1), reporter.Dropped())

	close(release)
	assert.Equal(t, CodeStarting, receive(t, delivered).Code)
	assert.Equal(t, CodeRunning, receive(t, delivered).Code)
}

func TestReporter_ListenerErrorIsSwallowed(t *testing.T) {
	reporter := NewReporter(4)
	defer reporter.Close()

	reporter.Register("s1", ListenerFunc(func(Event) error {
		return errors.New("connection closed")
	}))

	reporter.Notify("s1", CodeRunning)

	assert.Eventually(t, func() bool { return reporter.Dropped() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReporter_RegisterReplacesListener(t *testing.T) {
	reporter := NewReporter(4)
	defer reporter.Close()

	first, firstEvents := collector(4)
	second, secondEvents := collector(4)

	unregisterFirst := reporter.Register("s1", first)
	reporter.Register("s1", second)

	// A stale unregister must not remove the replacement
	unregisterFirst()

	reporter.Notify("s1", CodeRunning)

	assert.Equal(t, CodeRunning, receive(t, secondEvents).Code)
	assert.Empty(t, firstEvents)
}

func TestReporter_Unregister(t *testing.T) {
	reporter := NewReporter(4)
	defer reporter.Close()

	listener, events := collector(4)
	unregister := reporter.Register("s1", listener)
	unregister()

	reporter.Notify("s1", CodeRunning)

	assert.Equal(t, int64(1), reporter.Dropped())
	assert.Empty(t, events)

	reporter.Register("s2", listener)
	reporter.Unregister("s2")
	reporter.Notify("s2", CodeRunning)
	assert.Equal(t, int64(2), reporter.Dropped())
}

func TestReporter_SessionsAreIndependent(t *testing.T) {
	reporter := NewReporter(4)
	defer reporter.Close()

	a, aEvents := collector(4)
	b, bEvents := collector(4)
	reporter.Register("a", a)
	reporter.Register("b", b)

	reporter.Notify("b", CodeStopped)
	reporter.Notify("a", CodeStarting)

	assert.Equal(t, Event{SessionID: "a", Type: EventStatus, Code: CodeStarting}, receive(t, aEvents))
	assert.Equal(t, Event{SessionID: "b", Type: EventStatus, Code: CodeStopped}, receive(t, bEvents))
}

func TestReporter_Close(t *testing.T) {
	reporter := NewReporter(4)
	listener, events := collector(4)
	reporter.Register("s1", listener)

	reporter.Close()

	reporter.Notify("s1", CodeRunning)
	assert.Equal(t, int64(1), reporter.Dropped())

	unregister := reporter.Register("s1", listener)
	require.NotNil(t, unregister)
	unregister()

	reporter.Notify("s1", CodeRunning)
	assert.Equal(t, int64(2), reporter.Dropped())
	assert.Empty(t, events)
}
