package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
)

func testHub(cfg config.StreamingConfig) *Hub {
	if cfg.CacheLines == 0 {
		cfg.CacheLines = 1000
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = 256
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = time.Minute
	}
	return NewHub(cfg, logger.Nop(), nil)
}

func collect(sub *Subscriber, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: "hello"})

	events := collect(sub, 2, time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, EventInitialLogs, events[0].Type, "join delivers the replay first")
	assert.Equal(t, EventOutput, events[1].Type)
	assert.Equal(t, "hello", events[1].Line)
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)
	<-sub.Events() // InitialLogs

	for i := 0; i < 5; i++ {
		h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: fmt.Sprintf("line %d", i)})
	}

	events := collect(sub, 5, time.Second)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestJoinReplaysCachedLines(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: "one"})
	h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: "two"})
	h.Publish(Event{ExecutionID: "e-1", Type: EventStatus})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	events := collect(sub, 1, time.Second)
	require.Len(t, events, 1)
	require.Equal(t, EventInitialLogs, events[0].Type)

	lines, ok := events[0].Data["lines"].([]interface{})
	require.True(t, ok)
	assert.Len(t, lines, 2, "only output and error lines are cached")
}

func TestJoinReplayAtomicAgainstPublish(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	// Publish concurrently with a join: every line must arrive exactly once,
	// either in the replay or live.
	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: fmt.Sprintf("line %d", i)})
		}
	}()

	time.Sleep(time.Millisecond)
	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)
	wg.Wait()

	seen := make(map[string]int)
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case e := <-sub.Events():
			switch e.Type {
			case EventInitialLogs:
				for _, raw := range e.Data["lines"].([]interface{}) {
					seen[raw.(Event).Line]++
				}
			case EventOutput:
				seen[e.Line]++
			}
			if len(seen) == total {
				break loop
			}
		case <-deadline:
			break loop
		}
	}

	require.Len(t, seen, total)
	for line, count := range seen {
		assert.Equal(t, 1, count, "line %q delivered more than once", line)
	}
}

func TestCacheBounded(t *testing.T) {
	h := testHub(config.StreamingConfig{CacheLines: 3})

	for i := 0; i < 10; i++ {
		h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: fmt.Sprintf("line %d", i)})
	}

	cached := h.CachedLogs("e-1", 0)
	require.Len(t, cached, 3)
	assert.Equal(t, "line 7", cached[0].Line)
	assert.Equal(t, "line 9", cached[2].Line)

	lastTwo := h.CachedLogs("e-1", 2)
	require.Len(t, lastTwo, 2)
	assert.Equal(t, "line 8", lastTwo[0].Line)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := testHub(config.StreamingConfig{SubscriberBuffer: 4})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	// Never read: the buffer fills (InitialLogs + 3 lines), further
	// publishes drop the oldest entries.
	for i := 0; i < 5; i++ {
		h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: fmt.Sprintf("line %d", i)})
	}

	assert.Positive(t, sub.Dropped())

	var sawWarning bool
	var lines []string
	for {
		select {
		case e := <-sub.Events():
			if e.Type == EventWarning {
				sawWarning = true
			}
			if e.Type == EventOutput {
				lines = append(lines, e.Line)
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawWarning, "first drop enqueues a warning event")
	assert.Contains(t, lines, "line 4", "newest events survive")
}

func TestMaxSubscribers(t *testing.T) {
	h := testHub(config.StreamingConfig{MaxSubscribers: 1})

	_, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	_, err = h.JoinExecution("e-1")
	assert.ErrorIs(t, err, ErrTooManySubscribers)
}

func TestLeaveExecutionClosesChannel(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	h.LeaveExecution("e-1", sub)

	for {
		if _, open := <-sub.Events(); !open {
			return
		}
	}
}

func TestUserRollup(t *testing.T) {
	h := testHub(config.StreamingConfig{})

	sub := h.JoinUser("u-1")
	defer h.LeaveUser("u-1", sub)

	h.Publish(Event{ExecutionID: "e-1", UserID: "u-1", Type: EventStatus})
	h.Publish(Event{ExecutionID: "e-2", UserID: "u-1", Type: EventStatus})
	h.Publish(Event{ExecutionID: "e-3", UserID: "someone-else", Type: EventStatus})

	events := collect(sub, 2, time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, "e-1", events[0].ExecutionID)
	assert.Equal(t, "e-2", events[1].ExecutionID)

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event for execution %s", e.ExecutionID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUserRollupConcurrentPublish(t *testing.T) {
	h := testHub(config.StreamingConfig{SubscriberBuffer: 16})

	sub := h.JoinUser("u-1")

	received := 0
	drained := make(chan struct{})
	go func() {
		for e := range sub.Events() {
			if e.Type != EventWarning {
				received++
			}
		}
		close(drained)
	}()

	const publishers = 4
	const perPublisher = 500
	var wg sync.WaitGroup
	for g := 0; g < publishers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			executionID := fmt.Sprintf("e-%d", g)
			for i := 0; i < perPublisher; i++ {
				h.Publish(Event{ExecutionID: executionID, UserID: "u-1", Type: EventOutput, Line: "x"})
			}
		}(g)
	}
	wg.Wait()

	h.LeaveUser("u-1", sub)
	<-drained

	// Every published event is either received or accounted as dropped;
	// at most one synthetic warning may be evicted and counted as a drop.
	total := received + sub.Dropped()
	assert.GreaterOrEqual(t, total, publishers*perPublisher)
	assert.LessOrEqual(t, total, publishers*perPublisher+1)
}

func TestCompletedTopicTornDownAfterGrace(t *testing.T) {
	h := testHub(config.StreamingConfig{GracePeriod: 20 * time.Millisecond})

	sub, err := h.JoinExecution("e-1")
	require.NoError(t, err)

	h.Publish(Event{ExecutionID: "e-1", Type: EventOutput, Line: "done soon"})
	h.Publish(Event{ExecutionID: "e-1", Type: EventCompleted})

	assert.NotEmpty(t, h.CachedLogs("e-1", 0), "cache survives through the grace window")

	assert.Eventually(t, func() bool {
		return h.CachedLogs("e-1", 0) == nil
	}, time.Second, 10*time.Millisecond, "topic is removed after the grace period")

	events := collect(sub, 3, time.Second)
	_, open := <-sub.Events()
	assert.False(t, open, "teardown closes subscriber channels")
	assert.NotEmpty(t, events)
}
