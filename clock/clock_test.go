package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceMovesNow(t *testing.T) {
	c := Fake(epoch)
	c.Advance(3 * time.Millisecond)
	if got := Since(c, epoch); got != 3*time.Millisecond {
		t.Fatalf("Since: got %v, want 3ms", got)
	}
}

func TestFake_AfterFuncFiresInOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })

	c.Advance(15 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 15ms: got %v, want [1]", order)
	}
	c.Advance(5 * time.Millisecond)
	if len(order) != 2 || order[1] != 2 {
		t.Fatalf("after 20ms: got %v, want [1 2]", order)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := Fake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop on pending timer should return true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if tm.Stop() {
		t.Fatal("second Stop should return false")
	}
}

func TestFake_RearmInsideCallback(t *testing.T) {
	c := Fake(epoch)
	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(100*time.Millisecond, func() {
			count++
			arm()
		})
	}
	arm()
	c.Advance(350 * time.Millisecond)
	if count != 3 {
		t.Fatalf("re-armed timer fired %d times, want 3", count)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending: got %d, want 1", c.Pending())
	}
}
