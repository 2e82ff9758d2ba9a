package quota

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestGovernor(p Params) (*Governor, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	g := NewGovernor(map[Kind]Params{KindPixel: p, KindLine: p})
	g.SetClock(clk.now)
	return g, clk
}

func TestGovernorBurstThenRefill(t *testing.T) {
	g, clk := newTestGovernor(Params{Rate: 5, Period: time.Second, Capacity: 5})
	for i := 0; i < 5; i++ {
		if !g.Allow("a", KindPixel) {
			t.Fatalf("action %d denied", i+1)
		}
	}
	if g.Allow("a", KindPixel) {
		t.Fatalf("6th action allowed within the period")
	}
	if err := g.Check("a", KindPixel); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	clk.t = clk.t.Add(500 * time.Millisecond)
	if got := g.Tokens("a", KindPixel); got < 2.4 || got > 2.6 {
		t.Fatalf("tokens after half period = %v", got)
	}

	clk.t = clk.t.Add(500 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if !g.Allow("a", KindPixel) {
			t.Fatalf("after refill action %d denied", i+1)
		}
	}
	if g.Allow("a", KindPixel) {
		t.Fatalf("refill exceeded capacity")
	}
}

func TestGovernorKindsAndActorsIndependent(t *testing.T) {
	g, _ := newTestGovernor(Params{Rate: 1, Period: time.Second})
	if !g.Allow("a", KindPixel) || g.Allow("a", KindPixel) {
		t.Fatalf("pixel bucket wrong")
	}
	if !g.Allow("a", KindLine) {
		t.Fatalf("line bucket shares pixel tokens")
	}
	if !g.Allow("b", KindPixel) {
		t.Fatalf("actor b shares actor a tokens")
	}
}

func TestGovernorResetReplacesBucket(t *testing.T) {
	g, clk := newTestGovernor(Params{Rate: 2, Period: time.Second})
	g.Allow("a", KindPixel)
	g.Allow("a", KindPixel)
	if g.Allow("a", KindPixel) {
		t.Fatalf("expected empty bucket")
	}

	g.Reset("a", KindPixel, Params{Rate: 3, Period: 10 * time.Second})
	if p := g.Params("a", KindPixel); p.Rate != 3 || p.Period != 10*time.Second {
		t.Fatalf("params=%+v", p)
	}
	for i := 0; i < 3; i++ {
		if !g.Allow("a", KindPixel) {
			t.Fatalf("fresh bucket denied action %d", i+1)
		}
	}
	if g.Allow("a", KindPixel) {
		t.Fatalf("fresh bucket over capacity")
	}

	// A long idle period never accumulates beyond capacity.
	clk.t = clk.t.Add(time.Hour)
	g.Reset("a", KindPixel, Params{Rate: 3, Period: 10 * time.Second})
	if got := g.Tokens("a", KindPixel); got != 3 {
		t.Fatalf("tokens after reset = %v", got)
	}
}

func TestGovernorUnlimitedAndForget(t *testing.T) {
	g, _ := newTestGovernor(Params{})
	for i := 0; i < 1000; i++ {
		if !g.Allow("admin", KindLine) {
			t.Fatalf("unlimited bucket denied")
		}
	}
	if g.Actors() != 1 {
		t.Fatalf("actors=%d", g.Actors())
	}
	g.Forget("admin")
	if g.Actors() != 0 {
		t.Fatalf("forget did not discard state")
	}
}
