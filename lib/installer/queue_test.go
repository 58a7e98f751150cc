package installer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueueRunsOneAtATime(t *testing.T) {
	q := NewJobQueue(1)

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan string, 3)
	start := func(id string) func() {
		return func() {
			started <- id
			wg.Done()
		}
	}

	assert.Equal(t, 0, q.Enqueue("a", start("a")))
	assert.Equal(t, 1, q.Enqueue("b", start("b")))
	assert.Equal(t, 2, q.Enqueue("c", start("c")))
	wg.Wait()

	assert.Equal(t, "a", <-started)
	assert.Equal(t, 1, q.ActiveCount())
	assert.Equal(t, 2, q.PendingCount())
	assert.Nil(t, q.GetPosition("a"))
	pos := q.GetPosition("c")
	require.NotNil(t, pos)
	assert.Equal(t, 2, *pos)

	wg.Add(1)
	q.MarkComplete("a")
	wg.Wait()
	assert.Equal(t, "b", <-started)
	assert.Equal(t, 1, q.PendingCount())
}
