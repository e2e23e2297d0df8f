package filing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/submission"
)

var ErrReceiptsDisabled = errors.New("receipt rendering is disabled")

// StatusUpdate is the outcome of one status check. Applied is false when the
// reported status equals the stored one or was discarded.
type StatusUpdate struct {
	Record   ack.Record `json:"record"`
	Previous ack.Status `json:"previous"`
	Reported ack.Status `json:"reported"`
	Applied  bool       `json:"applied"`
}

// CheckStatus asks the endpoint about cn and applies the answer. Concurrent
// checks for the same cn share one endpoint call, which runs detached from
// any single caller and is bounded by StatusCheckTimeout; a caller whose ctx
// ends stops waiting without cancelling it for the others. Records already
// in a terminal state are returned without a call.
func (s *Service) CheckStatus(ctx context.Context, cn string) (StatusUpdate, error) {
	ch := s.group.DoChan(cn, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if s.cfg.StatusCheckTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, s.cfg.StatusCheckTimeout)
			defer cancel()
		}
		return s.checkStatus(shared, cn)
	})
	select {
	case <-ctx.Done():
		return StatusUpdate{}, ctx.Err()
	case res := <-ch:
		u, _ := res.Val.(StatusUpdate)
		return u, res.Err
	}
}

func (s *Service) checkStatus(ctx context.Context, cn string) (StatusUpdate, error) {
	ctx, span := s.tracer.Start(ctx, "filing.CheckStatus", trace.WithAttributes(attribute.String("confirmation_number", cn)))
	defer span.End()

	rec, err := s.store.Get(ctx, cn)
	if err != nil {
		endSpan(span, err)
		return StatusUpdate{}, err
	}
	if rec.Status.Terminal() {
		return StatusUpdate{Record: rec, Previous: rec.Status, Reported: rec.Status}, nil
	}

	report, err := s.client.CheckStatus(ctx, submission.StatusQuery{
		SubmissionID:       rec.SubmissionID,
		ConfirmationNumber: cn,
		EFIN:               rec.EFIN,
		TestMode:           rec.TestMode,
	})
	s.appendAudit(ctx, rec.EFIN, ActionStatusCheck, cn, outcomeOf(err))
	if err != nil {
		var te *submission.TransportError
		if errors.As(err, &te) && te.Permanent() {
			return s.ApplyStatus(ctx, cn, ack.StatusError, err.Error())
		}
		endSpan(span, err)
		return StatusUpdate{Record: rec, Previous: rec.Status}, err
	}
	u, err := s.ApplyStatus(ctx, cn, report.Status, report.Detail)
	endSpan(span, err)
	return u, err
}

// ApplyStatus records status for cn when it moves the record forward. An
// equal status is a no-op; a backward one leaves the store untouched and
// returns ErrStatusRegression.
func (s *Service) ApplyStatus(ctx context.Context, cn string, status ack.Status, detail string) (StatusUpdate, error) {
	if !status.Valid() {
		return StatusUpdate{}, fmt.Errorf("%w: %q", ack.ErrInvalidStatus, status)
	}
	unlock := s.lockCN(cn)
	defer unlock()

	rec, err := s.store.Get(ctx, cn)
	if err != nil {
		return StatusUpdate{}, err
	}
	u := StatusUpdate{Record: rec, Previous: rec.Status, Reported: status}
	logger := CorrelationLogger(s.logger, CorrelationID(ctx), rec.EFIN)

	if status == rec.Status {
		return u, nil
	}
	if !ack.CanAdvance(rec.Status, status) {
		s.metrics.regression()
		logger.Warn("discarding backward status", "confirmationNumber", cn, "stored", rec.Status, "reported", status)
		s.appendAudit(ctx, rec.EFIN, ActionStatus, cn, "discarded:"+string(status))
		return u, fmt.Errorf("%w: %s to %s", ErrStatusRegression, rec.Status, status)
	}

	updated, err := s.store.UpdateStatus(ctx, cn, status, detail)
	if err != nil {
		return u, err
	}
	u.Record = updated
	u.Applied = true
	s.metrics.transition(rec.Status, status)
	logger.Info("acknowledgment status changed", "confirmationNumber", cn, "from", rec.Status, "to", status)
	s.appendAudit(ctx, rec.EFIN, ActionStatus, cn, string(status))
	return u, nil
}

// PollUntilFinal checks cn every interval until the record is terminal or
// ctx ends. Transient endpoint failures and discarded statuses are logged
// and polling continues.
func (s *Service) PollUntilFinal(ctx context.Context, cn string, interval time.Duration) (ack.Record, error) {
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last ack.Record
	for {
		u, err := s.CheckStatus(ctx, cn)
		if u.Record.ConfirmationNumber != "" {
			last = u.Record
		}
		switch {
		case err == nil:
			if last.Status.Terminal() {
				return last, nil
			}
		case errors.Is(err, ack.ErrNotFound):
			return ack.Record{}, err
		case ctx.Err() != nil:
			return last, ctx.Err()
		default:
			CorrelationLogger(s.logger, CorrelationID(ctx), last.EFIN).Warn("status poll failed", "confirmationNumber", cn, "error", err)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshPending checks every non-terminal record, at most
// MaxParallelChecks at a time, and returns how many changed.
func (s *Service) RefreshPending(ctx context.Context) (int, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	limit := s.cfg.MaxParallelChecks
	if limit <= 0 {
		limit = 1
	}

	var (
		mu      sync.Mutex
		changed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for cn, rec := range all {
		if rec.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			u, err := s.CheckStatus(gctx, cn)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("status refresh failed", "confirmationNumber", cn, "error", err)
				return nil
			}
			if u.Applied {
				mu.Lock()
				changed++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return changed, err
}

// Get returns the stored record for cn.
func (s *Service) Get(ctx context.Context, cn string) (ack.Record, error) {
	return s.store.Get(ctx, cn)
}

// List returns every record, newest submission first.
func (s *Service) List(ctx context.Context) ([]ack.Record, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ack.Record, 0, len(all))
	for _, rec := range all {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ConfirmationNumber < out[j].ConfirmationNumber
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// Receipt renders the filing receipt for cn.
func (s *Service) Receipt(ctx context.Context, cn string) ([]byte, error) {
	if s.receipts == nil {
		return nil, ErrReceiptsDisabled
	}
	rec, err := s.store.Get(ctx, cn)
	if err != nil {
		return nil, err
	}
	return s.receipts.Render(ctx, rec)
}

func (s *Service) lockCN(cn string) func() {
	s.lockMu.Lock()
	m, ok := s.locks[cn]
	if !ok {
		m = &sync.Mutex{}
		s.locks[cn] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
