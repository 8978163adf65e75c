package callmgr

import (
	"testing"
	"time"
)

func TestRunLoopSerializes(t *testing.T) {
	loop := NewRunLoop()
	go loop.Run()
	defer loop.Stop()

	// tasks mutate unguarded state; single-goroutine execution is what
	// keeps this free of races
	count := 0
	const n = 500
	for i := 0; i < n; i++ {
		loop.Do(func() { count++ })
	}
	loop.DoSync(func() {}) // barrier
	if count != n {
		t.Errorf("count = %d; want %d", count, n)
	}
}

func TestRunLoopOrder(t *testing.T) {
	loop := NewRunLoop()
	go loop.Run()
	defer loop.Stop()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		loop.Do(func() { order = append(order, i) })
	}
	loop.DoSync(func() {})
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d; tasks ran out of submission order", i, got)
		}
	}
}

func TestRunLoopDoSyncWaits(t *testing.T) {
	loop := NewRunLoop()
	go loop.Run()
	defer loop.Stop()

	ran := false
	loop.DoSync(func() { ran = true })
	if !ran {
		t.Error("DoSync returned before the task ran")
	}
}

func TestRunLoopStopDrains(t *testing.T) {
	loop := NewRunLoop()
	returned := make(chan struct{})
	go func() {
		loop.Run()
		close(returned)
	}()
	count := 0
	for i := 0; i < 10; i++ {
		loop.Do(func() { count++ })
	}
	loop.Stop()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if count != 10 {
		t.Errorf("count = %d after drain; want 10", count)
	}
}
