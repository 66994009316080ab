package indicator

import (
	"math"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/infra"
)

// Provider supplies the market inputs the quoting engine needs each tick.
// Version changes when the estimates move materially, so consumers can
// throttle work on stale indicators.
type Provider interface {
	OnTicker(t domain.Ticker)
	Volatility() float64
	Intensity() float64
	Ready() bool
	Version() uint64
}

// versionEpsilon is the relative move in either estimate that counts as
// a material change.
const versionEpsilon = 0.01

// Rolling estimates realized volatility and trading intensity over a
// fixed-size ring buffer of mid prices. It is owned by the strategy loop
// goroutine and is not safe for concurrent use.
type Rolling struct {
	clock  infra.Clock
	window int

	// Ring buffer of observed mids and their arrival times.
	mids  []float64
	times []int64
	head  int
	count int

	intensityWindow time.Duration

	sigma   float64
	k       float64
	version uint64
}

// NewRolling creates an estimator over the given sample window. The
// intensity window is the rolling time span trade arrivals are counted
// over.
func NewRolling(window int, intensityWindow time.Duration, clock infra.Clock) *Rolling {
	if window < 2 {
		panic("indicator: window must be at least 2")
	}
	return &Rolling{
		clock:           clock,
		window:          window,
		mids:            make([]float64, window),
		times:           make([]int64, window),
		intensityWindow: intensityWindow,
	}
}

// OnTicker records a mid-price observation. Non-positive mids are
// ignored; an empty book degrades the estimates rather than poisoning
// them.
func (r *Rolling) OnTicker(t domain.Ticker) {
	mid := t.Mid()
	if mid <= 0 {
		return
	}

	r.mids[r.head] = mid
	r.times[r.head] = r.clock.Now().UnixMicro()
	r.head = (r.head + 1) % r.window
	if r.count < r.window {
		r.count++
	}

	r.recompute()
}

func (r *Rolling) recompute() {
	if r.count < 2 {
		return
	}

	// Walk the ring oldest to newest.
	start := r.head - r.count
	at := func(i int) int {
		idx := (start + i) % r.window
		if idx < 0 {
			idx += r.window
		}
		return idx
	}

	// Realized volatility: sample stdev of log returns.
	returns := make([]float64, 0, r.count-1)
	var sum float64
	for i := 1; i < r.count; i++ {
		prev, cur := r.mids[at(i-1)], r.mids[at(i)]
		lr := math.Log(cur / prev)
		returns = append(returns, lr)
		sum += lr
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, lr := range returns {
		d := lr - mean
		ss += d * d
	}
	sigma := 0.0
	if len(returns) > 1 {
		sigma = math.Sqrt(ss / float64(len(returns)-1))
	}

	// Intensity: mid-price changes per second over the rolling window.
	cutoff := r.clock.Now().Add(-r.intensityWindow).UnixMicro()
	changes := 0
	for i := 1; i < r.count; i++ {
		if r.times[at(i)] >= cutoff && r.mids[at(i)] != r.mids[at(i-1)] {
			changes++
		}
	}
	k := float64(changes) / r.intensityWindow.Seconds()

	if materialMove(r.sigma, sigma) || materialMove(r.k, k) {
		r.version++
	}
	r.sigma = sigma
	r.k = k
}

func materialMove(prev, next float64) bool {
	if prev == 0 {
		return next != 0
	}
	return math.Abs(next-prev)/math.Abs(prev) > versionEpsilon
}

// Volatility returns the current realized-volatility estimate, 0 until
// enough samples arrived.
func (r *Rolling) Volatility() float64 { return r.sigma }

// Intensity returns the current arrivals-per-second estimate.
func (r *Rolling) Intensity() float64 { return r.k }

// Ready reports whether the sample window is full.
func (r *Rolling) Ready() bool { return r.count == r.window }

// Version increments whenever either estimate moves materially.
func (r *Rolling) Version() uint64 { return r.version }
