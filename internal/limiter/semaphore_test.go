package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewSemaphore(3)

	var (
		current int64
		peak    int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer sem.Release()

			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Fatalf("expected at most 3 concurrent holders, saw %d", peak)
	}
	if inflight, waiting := sem.Stats(); inflight != 0 || waiting != 0 {
		t.Fatalf("expected idle semaphore, got inflight=%d waiting=%d", inflight, waiting)
	}
}

func TestSemaphoreFIFOHandOff(t *testing.T) {
	sem := NewSemaphore(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			if err := sem.Acquire(context.Background()); err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			order <- i
			sem.Release()
		}()
		waitForWaiters(t, sem, i+1)
	}

	sem.Release()
	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("expected waiter %d to run next, got %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for waiter %d", want)
		}
	}
}

func TestSemaphoreAcquireHonoursContext(t *testing.T) {
	sem := NewSemaphore(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer sem.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, waiting := sem.Stats(); waiting != 0 {
		t.Fatalf("expected cancelled waiter to be dropped, got %d", waiting)
	}
}

func TestSemaphoreOnChange(t *testing.T) {
	sem := NewSemaphore(2)
	var last [2]int
	sem.OnChange(func(inflight, waiting int) {
		last = [2]int{inflight, waiting}
	})

	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if last != [2]int{1, 0} {
		t.Fatalf("unexpected stats after acquire: %v", last)
	}
	sem.Release()
	if last != [2]int{0, 0} {
		t.Fatalf("unexpected stats after release: %v", last)
	}
	if sem.Permits() != 2 {
		t.Fatalf("unexpected permits: %d", sem.Permits())
	}
}

func waitForWaiters(t *testing.T, sem *Semaphore, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, waiting := sem.Stats(); waiting >= n {
			// Give the goroutine time to park inside the underlying semaphore.
			time.Sleep(10 * time.Millisecond)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d waiters", n)
}
