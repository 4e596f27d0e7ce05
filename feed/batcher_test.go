package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/model"
)

// fakeSource feeds events from a plain channel.
type fakeSource struct {
	ch chan *model.ChangeEvent
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *model.ChangeEvent, 64)}
}

func (s *fakeSource) Events() <-chan *model.ChangeEvent { return s.ch }
func (s *fakeSource) Close() error                      { close(s.ch); return nil }

// batchCollector records handled batches.
type batchCollector struct {
	mu      sync.Mutex
	batches [][]*model.ChangeEvent
	notify  chan struct{}
}

func newBatchCollector() *batchCollector {
	return &batchCollector{notify: make(chan struct{}, 16)}
}

func (c *batchCollector) handle(batch []*model.ChangeEvent) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *batchCollector) waitForBatches(t *testing.T, n int) [][]*model.ChangeEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		have := len(c.batches)
		c.mu.Unlock()
		if have >= n {
			break
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("expected %d batches, have %d", n, have)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]*model.ChangeEvent, len(c.batches))
	copy(out, c.batches)
	return out
}

func event(table string, id int64) *model.ChangeEvent {
	return &model.ChangeEvent{Schema: "blog", Table: table, ID: id}
}

func TestBatcher_CoalescesWithinWindow(t *testing.T) {
	source := newFakeSource()
	collector := newBatchCollector()

	b := NewBatcher(source, nil, 50*time.Millisecond, 100, collector.handle)
	b.Start()
	defer b.Stop()

	source.ch <- event("stories", 1)
	source.ch <- event("stories", 2)
	source.ch <- event("reactions", 3)

	batches := collector.waitForBatches(t, 1)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestBatcher_MaxSizeFlushesEarly(t *testing.T) {
	source := newFakeSource()
	collector := newBatchCollector()

	// A long window that never expires in this test; size triggers flush.
	b := NewBatcher(source, nil, time.Minute, 2, collector.handle)
	b.Start()
	defer b.Stop()

	for i := int64(1); i <= 4; i++ {
		source.ch <- event("stories", i)
	}

	batches := collector.waitForBatches(t, 2)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
}

func TestBatcher_FilterExcludesTables(t *testing.T) {
	source := newFakeSource()
	collector := newBatchCollector()

	filter, err := NewGlobFilter([]string{"stories", "reaction*"})
	require.NoError(t, err)

	b := NewBatcher(source, filter, 30*time.Millisecond, 100, collector.handle)
	b.Start()
	defer b.Stop()

	source.ch <- event("stories", 1)
	source.ch <- event("audit_log", 2)
	source.ch <- event("reactions", 3)

	batches := collector.waitForBatches(t, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, int64(1), batches[0][0].ID)
	assert.Equal(t, int64(3), batches[0][1].ID)
}

func TestBatcher_StopFlushesRemainder(t *testing.T) {
	source := newFakeSource()
	collector := newBatchCollector()

	b := NewBatcher(source, nil, time.Minute, 100, collector.handle)
	b.Start()

	source.ch <- event("stories", 1)

	// Give the loop a moment to pull the event before stopping.
	time.Sleep(20 * time.Millisecond)
	b.Stop()

	batches := collector.waitForBatches(t, 1)
	assert.Len(t, batches[0], 1)
}

func TestBatcher_SourceCloseFlushes(t *testing.T) {
	source := newFakeSource()
	collector := newBatchCollector()

	b := NewBatcher(source, nil, time.Minute, 100, collector.handle)
	b.Start()

	source.ch <- event("stories", 1)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, source.Close())

	batches := collector.waitForBatches(t, 1)
	assert.Len(t, batches[0], 1)
}

func TestGlobFilter_EmptyMatchesAll(t *testing.T) {
	filter, err := NewGlobFilter(nil)
	require.NoError(t, err)
	assert.True(t, filter.Match("blog", "anything"))

	filter, err = NewGlobFilter([]string{"stories"})
	require.NoError(t, err)
	assert.True(t, filter.Match("blog", "stories"))
	assert.False(t, filter.Match("blog", "audit_log"))

	_, err = NewGlobFilter([]string{"[bad"})
	assert.Error(t, err)
}
