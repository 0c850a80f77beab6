package resilience

import (
	"sync"
	"testing"
)

func TestDegradation_Bounds(t *testing.T) {
	d := NewDegradation(0, nil)
	if d.Level() != LevelFull {
		t.Fatalf("expected full service, got %d", d.Level())
	}
	if d.Recover() != 0 {
		t.Error("recover must saturate at zero")
	}
	for i := 0; i < 10; i++ {
		d.Degrade("providers down")
	}
	if d.Level() != LevelEmergency {
		t.Errorf("expected saturation at %d, got %d", LevelEmergency, d.Level())
	}
	if d.Recover() != LevelMinimal {
		t.Errorf("expected one step recovery, got %d", d.Level())
	}
}

func TestDegradation_CanPerform(t *testing.T) {
	d := NewDegradation(3, nil)
	d.Degrade("x")
	d.Degrade("x")

	if !d.CanPerform(LevelMinimal) {
		t.Error("operation tolerating level 2 must run at level 2")
	}
	if d.CanPerform(LevelReduced) {
		t.Error("operation tolerating level 1 must not run at level 2")
	}
}

func TestDegradation_Concurrent(t *testing.T) {
	d := NewDegradation(3, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); d.Degrade("load") }()
		go func() { defer wg.Done(); d.Recover() }()
	}
	wg.Wait()
	if l := d.Level(); l < 0 || l > 3 {
		t.Errorf("level out of bounds: %d", l)
	}
}
