package domain

// Side represents the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status represents the order lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusFilled          Status = "FILLED"
)

// statusRank defines the total order over statuses. A status update is
// applied only if its rank is >= the current rank, so a stale remote read
// can never revive or demote a terminal order. Filled ranks strictly above
// the cancel family: a late venue Filled event still records the fill even
// after a local cancel record (venue authority).
var statusRank = map[Status]int{
	StatusPending:         0,
	StatusOpen:            1,
	StatusPartiallyFilled: 2,
	StatusCanceled:        3,
	StatusRejected:        3,
	StatusExpired:         3,
	StatusFilled:          4,
}

// Rank returns the monotonic-apply rank of a status. Unknown statuses rank
// below Pending so they can never overwrite anything.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal reports whether the status ends the order's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusRejected, StatusExpired, StatusFilled:
		return true
	default:
		return false
	}
}

// Order represents a resting order. ID is the venue-assigned owning key;
// ClientToken is the locally-generated idempotency key, assigned once
// before any network call and immutable afterwards.
type Order struct {
	ID            string
	ClientToken   string
	Symbol        string
	Side          Side
	Price         float64
	Amount        float64
	Status        Status
	FilledAmount  float64
	CreatedUnixM  int64
	LastSeenUnixM int64
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// ApplyStatus applies a status update under the monotonic-apply invariant
// and reports whether it was applied.
func (o *Order) ApplyStatus(s Status) bool {
	if s.Rank() < o.Status.Rank() {
		return false
	}
	o.Status = s
	return true
}
