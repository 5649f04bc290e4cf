package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/banshee-data/lightsearch/internal/tracking"
)

func TestFakeAxis_Moves(t *testing.T) {
	ctx := context.Background()
	a := NewFakeAxis(100, 24000)

	AssertNoError(t, a.MoveLeft(ctx, 40))
	AssertNoError(t, a.MoveRight(ctx, 10))
	pos, _ := a.Position(ctx)
	if pos != 70 {
		t.Fatalf("position = %v, want 70", pos)
	}

	reached, err := a.MoveTo(ctx, 100, 20)
	AssertNoError(t, err)
	if reached {
		t.Error("MoveTo with a bounded step should not reach a 30 unit target")
	}
	reached, _ = a.MoveTo(ctx, 100, 20)
	if !reached {
		t.Error("second MoveTo should reach the target")
	}
	if a.Count("MoveTo") != 2 || a.Count("MoveLeft") != 1 {
		t.Errorf("unexpected call log %+v", a.Calls())
	}
}

func TestFakeAxis_Err(t *testing.T) {
	a := NewFakeAxis(0, 0)
	a.Err = errors.New("offline")
	AssertError(t, a.MoveLeft(context.Background(), 1))
	_, err := a.Position(context.Background())
	AssertError(t, err)
}

func TestScriptFeed_RepeatsLastFrame(t *testing.T) {
	f := NewScriptFeed(
		[]tracking.Light{Light(1, 10, 10, 5)},
		[]tracking.Light{Light(1, 12, 10, 5), Light(2, 50, 50, 5)},
	)
	ctx := context.Background()
	first, _ := f.Lights(ctx)
	second, _ := f.Lights(ctx)
	third, _ := f.Lights(ctx)
	if len(first) != 1 || len(second) != 2 || len(third) != 2 {
		t.Fatalf("frames = %v / %v / %v", first, second, third)
	}
	if f.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", f.Calls())
	}
	f.Reset()
	if f.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", f.Resets())
	}
}
