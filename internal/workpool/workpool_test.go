package workpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_preservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	got := Map(context.Background(), 3, items, func(_ context.Context, i int, v int) int {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10
	})
	want := []int{50, 10, 40, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Map = %v, want %v", got, want)
		}
	}
}

func TestMap_boundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	items := make([]struct{}, 40)
	Map(context.Background(), 4, items, func(_ context.Context, _ int, _ struct{}) bool {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return true
	})
	if peak > 4 {
		t.Errorf("peak = %d, want <= 4", peak)
	}
}

func TestMap_cancelSkipsUnstarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int32
	items := make([]int, 20)
	got := Map(ctx, 1, items, func(_ context.Context, i int, _ int) int {
		if atomic.AddInt32(&started, 1) == 2 {
			cancel()
		}
		return i + 1
	})
	if len(got) != len(items) {
		t.Fatalf("len = %d", len(got))
	}
	if s := atomic.LoadInt32(&started); s >= int32(len(items)) {
		t.Errorf("started %d tasks after cancel", s)
	}
	if got[len(got)-1] != 0 {
		t.Errorf("last slot = %d, want zero value", got[len(got)-1])
	}
}

func TestMap_empty(t *testing.T) {
	if got := Map(context.Background(), 8, []string(nil), func(context.Context, int, string) int { return 1 }); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}
