package clock

import (
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Sleep(90 * time.Second)
	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(90*time.Second))
	}

	f.Sleep(-time.Second)
	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("negative Sleep moved clock to %v", got)
	}
}

func TestFakeOnStep(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var calls int
	f.OnStep(func(time.Time) { calls++ })

	f.Sleep(time.Second)
	f.Advance(time.Minute)

	if calls != 2 {
		t.Errorf("hook calls = %d, want 2", calls)
	}
}
