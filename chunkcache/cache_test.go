package chunkcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestDedup(t *testing.T) {
	var fills atomic.Int32
	release := make(chan struct{})
	c := New(10, func(ctx context.Context, key int) (string, error) {
		fills.Add(1)
		<-release
		return fmt.Sprintf("chunk-%d", key), nil
	})

	const numCallers = 50
	results := make([]string, numCallers)
	wg := sync.WaitGroup{}
	started := sync.WaitGroup{}
	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := c.Get(context.Background(), 3)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	// Let every caller reach the pending fill before it resolves.
	require.Eventually(t, func() bool { return c.Stats().Misses == numCallers }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), fills.Load())
	for _, v := range results {
		require.Equal(t, "chunk-3", v)
	}
	v, err := c.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "chunk-3", v)
	require.Equal(t, int64(1), c.Stats().Hits)
}

func TestEviction(t *testing.T) {
	var fills []int
	c := New(2, func(ctx context.Context, key int) (int, error) {
		fills = append(fills, key)
		return key * 10, nil
	})
	ctx := context.Background()
	get := func(key int) int {
		v, err := c.Get(ctx, key)
		require.NoError(t, err)
		return v
	}
	expect.EQ(t, get(1), 10)
	expect.EQ(t, get(2), 20)
	expect.EQ(t, get(1), 10) // 1 becomes most recent
	expect.EQ(t, get(3), 30) // evicts 2
	expect.EQ(t, c.Len(), 2)
	expect.True(t, c.Contains(1))
	expect.False(t, c.Contains(2))
	expect.True(t, c.Contains(3))
	expect.EQ(t, get(2), 20) // refetched, evicts 1
	expect.EQ(t, fills, []int{1, 2, 3, 2})
	expect.False(t, c.Contains(1))
	expect.EQ(t, c.Stats().Evictions, int64(2))
}

func TestErrorsAreNotCached(t *testing.T) {
	calls := 0
	c := New(0, func(ctx context.Context, key string) ([]int, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("transient failure")
		}
		return []int{1, 2}, nil
	})
	expect.EQ(t, c.Capacity(), DefaultCapacity)
	_, err := c.Get(context.Background(), "a")
	require.Error(t, err)
	expect.False(t, c.Contains("a"))
	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	expect.EQ(t, v, []int{1, 2})
	expect.EQ(t, calls, 2)
}

func TestAbandonedFillIsCancelled(t *testing.T) {
	fillCancelled := make(chan struct{})
	var calls atomic.Int32
	c := New(4, func(ctx context.Context, key int) (int, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			close(fillCancelled)
			return 0, ctx.Err()
		}
		return 42, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := c.Get(ctx, 7)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Stats().Fills == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-done)
	select {
	case <-fillCancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("fill was not cancelled")
	}
	// A later request starts a fresh fill.
	v, err := c.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestSharedFillSurvivesOneCaller(t *testing.T) {
	release := make(chan struct{})
	var fillErr atomic.Value
	c := New(4, func(ctx context.Context, key int) (int, error) {
		<-release
		if err := ctx.Err(); err != nil {
			fillErr.Store(err)
		}
		return key + 1, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error)
	go func() {
		_, err := c.Get(ctx, 1)
		first <- err
	}()
	second := make(chan int)
	go func() {
		v, err := c.Get(context.Background(), 1)
		require.NoError(t, err)
		second <- v
	}()
	require.Eventually(t, func() bool { return c.Stats().Misses == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-first)
	close(release)
	require.Equal(t, 2, <-second)
	require.Nil(t, fillErr.Load())
	require.True(t, c.Contains(1))
	require.Equal(t, int64(1), c.Stats().Fills)
}
