package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"maker_go/internal/domain"
	"maker_go/internal/gateway"
)

// Submit runs the full submission protocol for one order:
//
//  1. Generate the client token before any network call.
//  2. Race the create against the submit timeout. The timeout never
//     cancels the underlying call, which may still land venue-side.
//  3. On timeout or transport error, look the token up at the venue to
//     find out whether the order landed despite the failed response.
//  4. On success, confirm-fetch after a short delay; a failed confirm
//     falls back to the create response instead of failing the submit.
//  5. Bounded retries with a fixed delay. Exhaustion returns (nil, nil):
//     no order this cycle, not fatal.
func (m *Manager) Submit(ctx context.Context, side domain.Side, price, amount float64) (*domain.Order, error) {
	if price <= 0 || amount <= 0 {
		return nil, fmt.Errorf("submit: invalid %s price=%.8f amount=%.8f", side, price, amount)
	}

	req := gateway.CreateRequest{
		Symbol:      m.cfg.Symbol,
		Side:        side,
		Price:       price,
		Amount:      amount,
		ClientToken: uuid.NewString(),
	}

	for attempt := 0; attempt <= m.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			m.clock.Sleep(m.cfg.RetryDelay)
		}

		created, err := m.createRaced(ctx, req)
		if err == nil {
			confirmed := m.confirmFetch(ctx, created)
			m.adopt(confirmed)
			return confirmed, nil
		}

		if !gateway.IsTransient(err) {
			return nil, fmt.Errorf("submit %s: %w", side, err)
		}

		// The response was lost, not necessarily the order. Resolve the
		// ambiguity by token before retrying, or the retry could book a
		// duplicate.
		m.log.Warn("ORDER: create response lost, recovering by client token",
			slog.String("token", req.ClientToken),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		if found := m.recoverByToken(ctx, req.ClientToken); found != nil {
			m.adopt(found)
			return found, nil
		}
	}

	m.log.Warn("ORDER: submission retries exhausted, skipping this cycle",
		slog.String("side", string(side)), slog.Float64("price", price))
	return nil, nil
}

// createRaced issues the create and races it against the submit timeout.
// The goroutine writes into a buffered channel so a timed-out call can
// still complete without leaking.
func (m *Manager) createRaced(ctx context.Context, req gateway.CreateRequest) (*domain.Order, error) {
	type result struct {
		ord *domain.Order
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ord, err := m.gw.CreateOrder(ctx, req)
		ch <- result{ord, err}
	}()

	select {
	case r := <-ch:
		return r.ord, r.err
	case <-m.clock.After(m.cfg.SubmitTimeout):
		return nil, fmt.Errorf("create %s after %s: %w", req.Side, m.cfg.SubmitTimeout, gateway.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// confirmFetch re-reads the order after a short delay to validate it
// truly exists venue-side. A failed confirm keeps the create response.
func (m *Manager) confirmFetch(ctx context.Context, created *domain.Order) *domain.Order {
	if m.cfg.ConfirmDelay <= 0 {
		return created
	}
	m.clock.Sleep(m.cfg.ConfirmDelay)

	fetched, err := m.gw.GetOrder(ctx, created.ID)
	if err != nil || fetched == nil {
		m.log.Warn("ORDER: confirm fetch failed, keeping create response",
			slog.String("id", created.ID), slog.Any("error", err))
		return created
	}
	return fetched
}

// recoverByToken asks the venue whether an order with this client token
// exists. nil means it never landed and a retry is safe.
func (m *Manager) recoverByToken(ctx context.Context, token string) *domain.Order {
	found, err := m.gw.GetOrderByClientToken(ctx, token, m.cfg.Symbol)
	if err != nil {
		m.log.Warn("ORDER: token recovery lookup failed",
			slog.String("token", token), slog.Any("error", err))
		return nil
	}
	if found != nil {
		m.log.Info("ORDER: recovered order that landed despite lost response",
			slog.String("token", token), slog.String("id", found.ID))
	}
	return found
}

// adopt registers a venue-acknowledged order in the local view. Terminal
// arrivals go straight through fill/removal handling.
func (m *Manager) adopt(o *domain.Order) {
	if o == nil || o.ID == "" {
		return
	}
	m.mu.Lock()
	if existing, ok := m.active[o.ID]; ok {
		existing.ApplyStatus(o.Status)
		if o.FilledAmount > existing.FilledAmount {
			existing.FilledAmount = o.FilledAmount
		}
	} else {
		cp := *o
		cp.LastSeenUnixM = m.clock.Now().UnixMicro()
		m.active[o.ID] = &cp
		if cp.ClientToken != "" {
			m.byToken[cp.ClientToken] = cp.ID
		}
	}
	m.mu.Unlock()

	m.sweepTerminal()
}
