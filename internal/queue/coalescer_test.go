package queue

import (
	"testing"
	"time"
)

func TestCoalescerAdmitsFirstUpdate(t *testing.T) {
	coal := NewCoalescer(100 * time.Millisecond)
	if !coal.Admit("a", 0) {
		t.Fatal("first update must pass")
	}
}

func TestCoalescerDropsBurstWithinWindow(t *testing.T) {
	coal := NewCoalescer(time.Hour)
	if !coal.Admit("a", 1) {
		t.Fatal("first update must pass")
	}
	admitted := 0
	for pct := 2.0; pct < 100; pct++ {
		if coal.Admit("a", pct) {
			admitted++
		}
	}
	if admitted != 0 {
		t.Fatalf("expected burst to coalesce away, %d passed", admitted)
	}
}

func TestCoalescerAlwaysAdmitsCompletion(t *testing.T) {
	coal := NewCoalescer(time.Hour)
	coal.Admit("a", 10)
	if !coal.Admit("a", 100) {
		t.Fatal("100 percent must pass regardless of window")
	}
}

func TestCoalescerRejectsRegressingPercent(t *testing.T) {
	coal := NewCoalescer(time.Nanosecond)
	coal.Admit("a", 50)
	time.Sleep(time.Millisecond)
	if coal.Admit("a", 40) {
		t.Fatal("regressing percent must not pass")
	}
	time.Sleep(time.Millisecond)
	if !coal.Admit("a", 60) {
		t.Fatal("forward percent outside window must pass")
	}
}

func TestCoalescerAdmitsOutsideWindow(t *testing.T) {
	coal := NewCoalescer(time.Millisecond)
	coal.Admit("a", 10)
	time.Sleep(5 * time.Millisecond)
	if !coal.Admit("a", 20) {
		t.Fatal("update outside window must pass")
	}
}

func TestCoalescerTracksJobsIndependently(t *testing.T) {
	coal := NewCoalescer(time.Hour)
	coal.Admit("a", 10)
	if !coal.Admit("b", 10) {
		t.Fatal("a fresh job must not share another job's window")
	}
}

func TestCoalescerDropClearsTracking(t *testing.T) {
	coal := NewCoalescer(time.Hour)
	coal.Admit("a", 90)
	coal.Drop("a")
	if !coal.Admit("a", 5) {
		t.Fatal("dropped id must start over as a first update")
	}
}
