package usage_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"babelbot/internal/usage"
	logx "babelbot/pkg/logx"
)

type fakeLister struct {
	ids []int64
	err error
}

func (l *fakeLister) ListActiveChatIDs(context.Context) ([]int64, error) {
	return l.ids, l.err
}

func TestIncrementCountsPerChat(t *testing.T) {
	c := usage.NewCounter(&fakeLister{}, logx.Nop(), nil)

	require.Equal(t, int64(1), c.Increment(10))
	require.Equal(t, int64(2), c.Increment(10))
	require.Equal(t, int64(1), c.Increment(20))
	require.Equal(t, int64(2), c.Count(10))
	require.Equal(t, int64(0), c.Count(99))
}

func TestResetRebuildsFromActiveChats(t *testing.T) {
	lister := &fakeLister{ids: []int64{10, 30}}
	c := usage.NewCounter(lister, logx.Nop(), nil)

	c.Increment(10)
	c.Increment(20)
	c.Reset(context.Background())

	snap := c.Snapshot()
	require.Equal(t, map[int64]int64{10: 0, 30: 0}, snap)
}

func TestResetDegradesToEmptyOnListerFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("db closed")}
	c := usage.NewCounter(lister, logx.Nop(), nil)

	c.Increment(10)
	c.Reset(context.Background())

	require.Empty(t, c.Snapshot())
	// Counting resumes from zero for any chat.
	require.Equal(t, int64(1), c.Increment(10))
}

func TestConcurrentIncrements(t *testing.T) {
	c := usage.NewCounter(&fakeLister{}, logx.Nop(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment(5)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(100), c.Count(5))
}
