package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecard/internal/repository"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "ecard:1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.locks)
}

func TestLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocker()

	unlockA, err := locker.Lock(context.Background(), "driver:a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "driver:b")
	require.NoError(t, err)
	unlockB()
}

func TestLocker_TimesOutWhileHeld(t *testing.T) {
	locker := NewLocker()

	unlock, err := locker.Lock(context.Background(), "payment:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "payment:1")
	assert.ErrorIs(t, err, repository.ErrTimeout)

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "payment:1")
	require.NoError(t, err)
	again()
}
