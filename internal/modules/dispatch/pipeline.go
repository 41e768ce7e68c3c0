package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
)

// Stop reasons reported when the queue is abandoned early
const (
	StopFailureCap    = "failure_cap"
	StopFatalStatus   = "fatal_status"
	StopNoCredentials = "no_credentials"
	StopCanceled      = "canceled"
)

// OutcomeDiscarded marks a request dropped before submission because quota ran out
const OutcomeDiscarded domain.Outcome = "discarded"

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper is the production Sleeper
func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// QuotaRefresher reads the live quota of one warehouse side
type QuotaRefresher interface {
	FetchOne(ctx context.Context, warehouseID int, dir domain.Direction) (int, error)
}

// Sink receives accepted transfers
type Sink interface {
	Enqueue(t domain.SentTransfer)
}

// Config controls failure handling and pacing
type Config struct {
	MaxFailures    int
	CooldownLadder []time.Duration
	SendDelay      time.Duration
}

// RequestResult is the outcome of one queued request
type RequestResult struct {
	Request domain.TransferRequest `json:"request"`
	Outcome domain.Outcome         `json:"outcome"`
	Status  int                    `json:"status,omitempty"`
	Sent    int                    `json:"sent"`
	Error   string                 `json:"error,omitempty"`
}

// Report summarises a dispatch run
type Report struct {
	Queued          int             `json:"queued"`
	Submitted       int             `json:"submitted"`
	Accepted        int             `json:"accepted"`
	Discarded       int             `json:"discarded"`
	Retryable       int             `json:"retryable"`
	TransportErrors int             `json:"transport_errors"`
	Rejected        int             `json:"rejected"`
	UnitsSent       int             `json:"units_sent"`
	Failures        int             `json:"failures"`
	Cooldown        time.Duration   `json:"cooldown_ns"`
	StopReason      string          `json:"stop_reason,omitempty"`
	FatalStatus     int             `json:"fatal_status,omitempty"`
	Results         []RequestResult `json:"results"`
}

// Completed reports whether every queued request was handled
func (r *Report) Completed() bool {
	return r.StopReason == ""
}

// Pipeline sends requests sequentially. It is not safe for concurrent use.
type Pipeline struct {
	cfg       Config
	submitter domain.OrderSubmitter
	creds     domain.CredentialProvider
	refresher QuotaRefresher
	sleep     Sleeper
	log       zerolog.Logger
	now       func() time.Time
}

// NewPipeline creates a new dispatch pipeline
func NewPipeline(cfg Config, submitter domain.OrderSubmitter, creds domain.CredentialProvider, refresher QuotaRefresher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		submitter: submitter,
		creds:     creds,
		refresher: refresher,
		sleep:     ContextSleeper,
		log:       log.With().Str("service", "dispatch").Logger(),
		now:       time.Now,
	}
}

// SetSleeper replaces the sleeper used for cooldowns and send delays
func (p *Pipeline) SetSleeper(s Sleeper) {
	p.sleep = s
}

// run holds the mutable state of a single Run call
type run struct {
	id       string
	quota    *domain.QuotaBook
	sink     Sink
	ladder   *Ladder
	failures int
	report   *Report
}

// Run submits every request in order. Quota is read and decremented in place; it must not
// be shared with anything else while Run executes. Remote failures end up in the report;
// only context cancellation returns an error. Accepted transfers are never rolled back.
func (p *Pipeline) Run(ctx context.Context, runID string, reqs []domain.TransferRequest, quota *domain.QuotaBook, sink Sink) (*Report, error) {
	r := &run{
		id:     runID,
		quota:  quota,
		sink:   sink,
		ladder: NewLadder(p.cfg.CooldownLadder),
		report: &Report{Queued: len(reqs)},
	}

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			r.report.StopReason = StopCanceled
			return r.report, err
		}

		stop, err := p.handle(ctx, r, req)
		if err != nil {
			r.report.StopReason = StopCanceled
			return r.report, err
		}
		if stop {
			break
		}
	}

	r.report.Failures = r.failures
	p.log.Info().
		Str("run_id", runID).
		Int("queued", r.report.Queued).
		Int("accepted", r.report.Accepted).
		Int("discarded", r.report.Discarded).
		Int("retryable", r.report.Retryable).
		Int("rejected", r.report.Rejected).
		Int("units", r.report.UnitsSent).
		Str("stop_reason", r.report.StopReason).
		Msg("Dispatch finished")
	return r.report, nil
}

// handle processes one request and reports whether the queue must stop
func (p *Pipeline) handle(ctx context.Context, r *run, req domain.TransferRequest) (bool, error) {
	src, dst := r.quota.Src(req.Source), r.quota.Dst(req.Destination)
	if src < 1 || dst < 1 {
		p.discard(r, req, "no quota")
		return false, nil
	}
	if req.Total() > min(src, dst) {
		p.discard(r, req, "exceeds remaining quota")
		return false, nil
	}

	cred, err := p.creds.Next()
	if err != nil {
		p.log.Error().Err(err).Msg("No credential available, stopping dispatch")
		r.report.StopReason = StopNoCredentials
		return true, nil
	}

	status, sendErr := p.submitter.SubmitOrder(ctx, cred, req)
	r.report.Submitted++
	if err := p.pause(ctx, p.cfg.SendDelay); err != nil {
		return true, err
	}

	result := RequestResult{Request: req, Status: status}
	if sendErr != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		result.Outcome = domain.OutcomeRetryable
		result.Error = sendErr.Error()
		r.report.TransportErrors++
		r.report.Results = append(r.report.Results, result)
		p.log.Warn().Err(sendErr).Int("product_id", req.ProductID).Msg("Transfer order not delivered")
		return p.onRetryable(ctx, r)
	}

	result.Outcome = domain.ClassifyStatus(status)
	switch result.Outcome {
	case domain.OutcomeAccepted:
		result.Sent = p.onAccepted(r, req)
		r.report.Results = append(r.report.Results, result)
		return false, nil

	case domain.OutcomeRetryable:
		r.report.Retryable++
		r.report.Results = append(r.report.Results, result)
		p.log.Warn().Int("status", status).Int("product_id", req.ProductID).Msg("Transfer order throttled")
		return p.onRetryable(ctx, r)

	case domain.OutcomeRejected:
		r.report.Rejected++
		r.report.Results = append(r.report.Results, result)
		p.log.Warn().
			Int("status", status).
			Int("product_id", req.ProductID).
			Int("source", req.Source).
			Int("destination", req.Destination).
			Msg("Transfer order rejected, refreshing quota")
		return p.onRejected(ctx, r, req)

	default:
		r.report.Results = append(r.report.Results, result)
		r.report.StopReason = StopFatalStatus
		r.report.FatalStatus = status
		p.log.Error().Int("status", status).Msg("Unexpected transfer order status, stopping dispatch")
		return true, nil
	}
}

func (p *Pipeline) discard(r *run, req domain.TransferRequest, reason string) {
	r.report.Discarded++
	r.report.Results = append(r.report.Results, RequestResult{Request: req, Outcome: OutcomeDiscarded})
	p.log.Debug().
		Int("product_id", req.ProductID).
		Int("source", req.Source).
		Int("destination", req.Destination).
		Str("reason", reason).
		Msg("Request discarded")
}

func (p *Pipeline) onAccepted(r *run, req domain.TransferRequest) int {
	sentAt := p.now().UTC()
	sent := 0
	for _, line := range req.Lines {
		r.quota.Decrement(req.Source, domain.DirectionSrc, line.Quantity)
		r.quota.Decrement(req.Destination, domain.DirectionDst, line.Quantity)
		sent += line.Quantity
		if r.sink != nil {
			r.sink.Enqueue(domain.SentTransfer{
				RunID:         r.id,
				ProductID:     req.ProductID,
				SizeID:        line.SizeID,
				FromWarehouse: req.Source,
				ToWarehouse:   req.Destination,
				FromRegion:    req.SourceRegion,
				ToRegion:      req.DestinationRegion,
				Quantity:      line.Quantity,
				SentAt:        sentAt,
			})
		}
	}

	r.failures = 0
	r.ladder.Reset()
	r.report.Accepted++
	r.report.UnitsSent += sent

	p.log.Info().
		Int("product_id", req.ProductID).
		Int("source", req.Source).
		Int("destination", req.Destination).
		Int("units", sent).
		Msg("Transfer order accepted")
	return sent
}

func (p *Pipeline) onRetryable(ctx context.Context, r *run) (bool, error) {
	r.failures++
	if r.failures > p.cfg.MaxFailures {
		r.report.StopReason = StopFailureCap
		p.log.Error().Int("failures", r.failures).Msg("Failure budget exhausted, stopping dispatch")
		return true, nil
	}
	d := r.ladder.Next()
	r.report.Cooldown += d
	p.log.Warn().Dur("cooldown", d).Int("failures", r.failures).Msg("Cooling down")
	return false, p.pause(ctx, d)
}

func (p *Pipeline) onRejected(ctx context.Context, r *run, req domain.TransferRequest) (bool, error) {
	r.failures++
	if r.failures > p.cfg.MaxFailures {
		r.report.StopReason = StopFailureCap
		p.log.Error().Int("failures", r.failures).Msg("Failure budget exhausted, stopping dispatch")
		return true, nil
	}
	for _, side := range []struct {
		wh  int
		dir domain.Direction
	}{
		{req.Destination, domain.DirectionDst},
		{req.Source, domain.DirectionSrc},
	} {
		v, err := p.refresh(ctx, side.wh, side.dir)
		if err != nil {
			return true, err
		}
		r.quota.Set(side.wh, side.dir, v)
	}
	return false, nil
}

// refresh reads live quota. A failed read counts as zero so the warehouse is not used again
// this run; only cancellation is returned.
func (p *Pipeline) refresh(ctx context.Context, wh int, dir domain.Direction) (int, error) {
	if p.refresher == nil {
		return 0, nil
	}
	v, err := p.refresher.FetchOne(ctx, wh, dir)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.log.Warn().Err(err).Int("warehouse_id", wh).Str("direction", string(dir)).Msg("Quota refresh failed, assuming none left")
		return 0, nil
	}
	return v, nil
}

func (p *Pipeline) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := p.sleep(ctx, d); err != nil {
		return fmt.Errorf("dispatch interrupted: %w", err)
	}
	return nil
}
