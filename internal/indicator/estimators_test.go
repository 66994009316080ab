package indicator

import (
	"math"
	"testing"
	"time"

	"maker_go/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now.Add(d)
	return ch
}
func (f *fakeClock) Sleep(time.Duration)     {}
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func feed(r *Rolling, clock *fakeClock, mids ...float64) {
	for _, m := range mids {
		r.OnTicker(domain.Ticker{Last: m})
		clock.Advance(time.Second)
	}
}

func TestRolling_ReadyAfterFullWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(4, time.Minute, clock)

	feed(r, clock, 100, 101, 100)
	if r.Ready() {
		t.Error("Ready with 3 of 4 samples")
	}
	feed(r, clock, 101)
	if !r.Ready() {
		t.Error("not Ready with a full window")
	}
}

func TestRolling_ConstantPricesDegrade(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(4, time.Minute, clock)

	feed(r, clock, 100, 100, 100, 100)
	if got := r.Volatility(); got != 0 {
		t.Errorf("Volatility = %v, want 0 for a flat series", got)
	}
	if got := r.Intensity(); got != 0 {
		t.Errorf("Intensity = %v, want 0 with no mid changes", got)
	}
}

func TestRolling_VolatilityOfAlternatingSeries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(5, time.Minute, clock)

	feed(r, clock, 100, 102, 100, 102, 100)
	// Returns alternate between +ln(1.02) and -ln(1.02), mean 0, so the
	// sample stdev is sqrt(4*lr^2/3).
	lr := math.Log(1.02)
	want := math.Sqrt(4 * lr * lr / 3)
	if got := r.Volatility(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Volatility = %v, want %v", got, want)
	}
	if got := r.Intensity(); got != 4.0/60.0 {
		t.Errorf("Intensity = %v, want 4 changes over 60s", got)
	}
}

func TestRolling_IgnoresInvalidMid(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(3, time.Minute, clock)

	feed(r, clock, 100, 0, -5, 101, 100)
	if !r.Ready() {
		t.Error("invalid mids must not count toward the window")
	}
	if r.Volatility() <= 0 {
		t.Error("expected positive volatility from the valid samples")
	}
}

func TestRolling_VersionTracksMaterialMoves(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(4, time.Minute, clock)

	feed(r, clock, 100, 100, 100, 100)
	v0 := r.Version()
	feed(r, clock, 100)
	if r.Version() != v0 {
		t.Error("version bumped without an estimate change")
	}
	feed(r, clock, 105)
	if r.Version() == v0 {
		t.Error("version should bump when volatility jumps")
	}
}

func TestRolling_IntensityWindowExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRolling(6, 10*time.Second, clock)

	feed(r, clock, 100, 101, 102, 103)
	if r.Intensity() == 0 {
		t.Fatal("expected nonzero intensity while changes are fresh")
	}
	clock.Advance(time.Minute)
	r.OnTicker(domain.Ticker{Last: 103})
	if got := r.Intensity(); got != 0 {
		t.Errorf("Intensity = %v, want 0 after the window expired", got)
	}
}
