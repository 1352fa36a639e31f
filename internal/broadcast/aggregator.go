// Package broadcast fans one notification out to every eligible recipient and
// builds the per-recipient report.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// ErrNoNotificationID is recorded when the component accepted the call but returned no id.
const ErrNoNotificationID = "no notification id returned"

// Options tune a single broadcast.
type Options struct {
	// ExcludeID is removed from the report entirely.
	ExcludeID string
	// SenderID is stamped into the payload as senderId when set.
	SenderID string
	// Type is stamped into the payload as type.
	Type string
}

type Aggregator struct {
	store       recipient.Store
	component   dispatch.Component
	concurrency int
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewAggregator creates an aggregator. concurrency <= 1 attempts recipients one at a time.
func NewAggregator(store recipient.Store, component dispatch.Component, concurrency int, metrics *Metrics, logger *slog.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{
		store:       store,
		component:   component,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger.With("component", "BroadcastAggregator"),
		now:         time.Now,
	}
}

// Broadcast never fails because of a single recipient; only a failure to enumerate
// recipients is returned.
func (a *Aggregator) Broadcast(ctx context.Context, n recipient.Notification, opts Options) (recipient.Report, error) {
	start := a.now()

	all, err := a.store.List(ctx)
	if err != nil {
		return recipient.Report{}, fmt.Errorf("failed to enumerate recipients: %w", err)
	}

	var eligible []recipient.Recipient
	var ineligible []recipient.Outcome
	for _, r := range all {
		if opts.ExcludeID != "" && r.ID == opts.ExcludeID {
			continue
		}
		if status, ok := a.ineligibleStatus(ctx, r); ok {
			ineligible = append(ineligible, recipient.Outcome{
				RecipientID: r.ID,
				Name:        r.DisplayName(),
				Status:      status,
			})
			continue
		}
		eligible = append(eligible, r)
	}

	payload := n.WithData(a.stampData(opts, start))
	outcomes := a.attemptAll(ctx, eligible, payload)

	report := recipient.Report{
		Total:           len(eligible),
		Eligible:        len(eligible),
		Ineligible:      len(ineligible),
		TotalRecipients: len(eligible) + len(ineligible),
		Details:         make([]recipient.Outcome, 0, len(eligible)+len(ineligible)),
	}
	for _, o := range outcomes {
		if o.Status == recipient.StatusSuccess {
			report.Success++
		} else {
			report.Failed++
		}
		report.Details = append(report.Details, o)
	}
	report.Details = append(report.Details, ineligible...)

	a.record(report, start)
	a.logger.Info("Broadcast complete",
		"total", report.Total, "success", report.Success, "failed", report.Failed,
		"ineligible", report.Ineligible, "excluded", opts.ExcludeID != "")
	return report, nil
}

// ineligibleStatus classifies recipients that must not be attempted. The stored record
// decides first; the component then vetoes recipients it holds no token for or that paused.
// A component error leaves the recipient eligible so the attempt reports it.
func (a *Aggregator) ineligibleStatus(ctx context.Context, r recipient.Recipient) (recipient.Status, bool) {
	switch {
	case !r.HasToken():
		return recipient.StatusNoToken, true
	case !r.IsActive:
		return recipient.StatusInactive, true
	}
	hasToken, paused, err := a.component.Status(ctx, r.ID)
	switch {
	case err != nil:
		a.logger.Warn("Push status unavailable; attempting anyway", "recipient_id", r.ID, "err", err)
		return "", false
	case !hasToken:
		return recipient.StatusNoToken, true
	case paused:
		return recipient.StatusInactive, true
	}
	return "", false
}

func (a *Aggregator) stampData(opts Options, at time.Time) map[string]any {
	extra := map[string]any{
		"type":      opts.Type,
		"timestamp": at.UTC().Format(time.RFC3339),
	}
	if opts.SenderID != "" {
		extra["senderId"] = opts.SenderID
	}
	return extra
}

// attemptAll returns one outcome per eligible recipient, in enumeration order.
func (a *Aggregator) attemptAll(ctx context.Context, eligible []recipient.Recipient, n recipient.Notification) []recipient.Outcome {
	outcomes := make([]recipient.Outcome, len(eligible))
	attempted := make([]bool, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, r := range eligible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcomes[i] = a.attempt(gctx, r, n)
			attempted[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range eligible {
		if !attempted[i] {
			outcomes[i] = recipient.Outcome{
				RecipientID: r.ID,
				Name:        r.DisplayName(),
				Status:      recipient.StatusFailed,
				Error:       context.Cause(ctx).Error(),
			}
		}
	}
	return outcomes
}

func (a *Aggregator) attempt(ctx context.Context, r recipient.Recipient, n recipient.Notification) recipient.Outcome {
	out := recipient.Outcome{RecipientID: r.ID, Name: r.DisplayName()}

	id, err := a.component.Send(ctx, r.ID, n, false)
	switch {
	case err != nil:
		a.logger.Warn("Broadcast delivery failed", "recipient_id", r.ID, "err", err)
		out.Status = recipient.StatusFailed
		out.Error = err.Error()
		if errors.Is(err, dispatch.ErrDeviceNotRegistered) {
			if clearErr := a.store.ClearToken(ctx, r.ID); clearErr != nil {
				a.logger.Warn("Failed to clear dead push token", "recipient_id", r.ID, "err", clearErr)
			}
		}
	case id == "":
		out.Status = recipient.StatusFailed
		out.Error = ErrNoNotificationID
	default:
		out.Status = recipient.StatusSuccess
		out.NotificationID = id
	}
	return out
}

func (a *Aggregator) record(report recipient.Report, start time.Time) {
	if a.metrics == nil {
		return
	}
	for _, o := range report.Details {
		a.metrics.Outcomes.WithLabelValues(string(o.Status)).Inc()
	}
	a.metrics.Duration.Observe(a.now().Sub(start).Seconds())
}
