package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAcquireWithinLimitDoesNotBlock(t *testing.T) {
	l := New(time.Second, map[string]int{"binance": 3}, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background(), "binance"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("limit 内的请求不应阻塞, 耗时 %v", elapsed)
	}
}

func TestAcquireBlocksUntilWindowRollsOver(t *testing.T) {
	window := 200 * time.Millisecond
	l := New(window, map[string]int{"okx": 1}, zerolog.Nop())

	if err := l.Acquire(context.Background(), "okx"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(context.Background(), "okx"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window/2 {
		t.Fatalf("second acquire should wait for the window, waited %v", elapsed)
	}
}

func TestAcquireHonoursContextCancellation(t *testing.T) {
	l := New(time.Minute, map[string]int{"bybit": 1}, zerolog.Nop())

	if err := l.Acquire(context.Background(), "bybit"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "bybit"); err == nil {
		t.Fatal("满窗等待应在 ctx 取消时返回错误")
	}
}

func TestUnknownSourceIsNotThrottled(t *testing.T) {
	l := New(time.Minute, map[string]int{"binance": 1}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		if err := l.Acquire(context.Background(), "unconfigured"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestConcurrentAcquiresRespectWindowCount(t *testing.T) {
	window := 300 * time.Millisecond
	limit := 5
	l := New(window, map[string]int{"gate": limit}, zerolog.Nop())

	var immediate int64
	var wg sync.WaitGroup
	deadline := time.Now().Add(window / 2)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			defer cancel()
			if err := l.Acquire(ctx, "gate"); err == nil {
				atomic.AddInt64(&immediate, 1)
			}
		}()
	}
	wg.Wait()

	// Only `limit` callers may pass without suspending inside one window.
	if got := atomic.LoadInt64(&immediate); got != int64(limit) {
		t.Fatalf("expected %d grants within the window, got %d", limit, got)
	}
}
