package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"github.com/signalsfoundry/tanknet-simulator/internal/observability"
	"github.com/signalsfoundry/tanknet-simulator/internal/sim/state"
	"golang.org/x/time/rate"
)

// Target is the mutable surface a command can touch. *state.NetworkState
// implements it.
type Target interface {
	SetValve(ctx context.Context, id int, open bool) error
	SetLeak(ctx context.Context, id int, open bool) error
	SetLeakIntensity(ctx context.Context, value float64) (float64, error)
	SetPaused(ctx context.Context, paused bool) bool
	Reset(ctx context.Context)
}

// Recorder counts processed commands by kind and result.
type Recorder interface {
	RecordCommand(kind, result string)
}

// Report is the outcome of one command. It is logged, counted and
// published on the events topic.
type Report struct {
	CommandID string    `json:"command_id"`
	Kind      Kind      `json:"kind"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	Applied   any       `json:"applied,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal renders the report as JSON.
func (r Report) Marshal() ([]byte, error) { return json.Marshal(r) }

// Processor decodes and applies commands against a Target.
type Processor struct {
	target  Target
	log     logging.Logger
	metrics Recorder
	limiter *rate.Limiter
	sinks   []func(context.Context, Report)
	now     func() time.Time
}

// Option customises a Processor.
type Option func(*Processor)

// WithRecorder attaches a command counter.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.metrics = r }
}

// WithRateLimit rejects commands arriving faster than perSecond with
// bursts of up to burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Processor) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithReportSink registers fn to receive every report after it is logged.
func WithReportSink(fn func(context.Context, Report)) Option {
	return func(p *Processor) {
		if fn != nil {
			p.sinks = append(p.sinks, fn)
		}
	}
}

// NewProcessor wires a processor to target.
func NewProcessor(target Target, log logging.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logging.Noop()
	}
	p := &Processor{target: target, log: log, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Handle decodes payload and applies it. It never panics on bad input
// and never returns an error: every outcome is carried by the Report.
func (p *Processor) Handle(ctx context.Context, payload []byte) Report {
	req, err := Decode(payload)
	if err != nil {
		if req.CommandID != "" {
			ctx = logging.ContextWithCommandID(ctx, req.CommandID)
		}
		ctx, log := logging.WithCommandLogger(ctx, p.log)
		return p.finish(ctx, log, req.Kind, nil, err)
	}
	return p.Apply(ctx, req)
}

// Apply runs one decoded request against the target.
func (p *Processor) Apply(ctx context.Context, req Request) Report {
	if req.CommandID != "" {
		ctx = logging.ContextWithCommandID(ctx, req.CommandID)
	}
	ctx, log := logging.WithCommandLogger(ctx, p.log)

	if p.limiter != nil && !p.limiter.Allow() {
		return p.finish(ctx, log, req.Kind, nil, ErrRateLimited)
	}

	ctx, span := observability.StartCommandSpan(ctx, string(req.Kind), logging.CommandIDFromContext(ctx))
	defer span.End()

	applied, err := p.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
	}
	return p.finish(ctx, log, req.Kind, applied, err)
}

func (p *Processor) apply(ctx context.Context, req Request) (any, error) {
	if p.target == nil {
		return nil, state.ErrStateNotInitialised
	}
	switch req.Kind {
	case KindValve:
		if err := p.target.SetValve(ctx, req.ID, req.Open); err != nil {
			return nil, err
		}
		return map[string]any{"id": req.ID, "state": req.Open}, nil

	case KindLeak:
		if err := p.target.SetLeak(ctx, req.ID, req.Open); err != nil {
			if errors.Is(err, state.ErrNoLeakTaps) {
				return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
			}
			return nil, err
		}
		return map[string]any{"id": req.ID, "state": req.Open}, nil

	case KindLeakIntensity:
		stored, err := p.target.SetLeakIntensity(ctx, req.Value)
		if err != nil {
			if errors.Is(err, state.ErrNoLeakTaps) {
				return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
			}
			return nil, err
		}
		return map[string]any{"value": stored}, nil

	case KindPause:
		changed := p.target.SetPaused(ctx, req.Pause)
		return map[string]any{"value": req.Pause, "changed": changed}, nil

	case KindReset:
		p.target.Reset(ctx)
		return map[string]any{"paused": true}, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnsupported, req.Kind)
}

func (p *Processor) finish(ctx context.Context, log logging.Logger, kind Kind, applied any, err error) Report {
	if kind == "" {
		kind = KindUnknown
	}
	rep := Report{
		CommandID: logging.CommandIDFromContext(ctx),
		Kind:      kind,
		Accepted:  err == nil,
		Reason:    Reason(err),
		Applied:   applied,
		Timestamp: p.now().UTC(),
	}
	if err != nil {
		rep.Error = err.Error()
		log.Warn(ctx, "command rejected",
			logging.String("kind", string(kind)),
			logging.String("reason", rep.Reason),
			logging.Err(err),
		)
	} else {
		log.Info(ctx, "command applied", logging.String("kind", string(kind)), logging.Any("applied", applied))
	}

	if p.metrics != nil {
		p.metrics.RecordCommand(string(kind), rep.Reason)
	}
	for _, sink := range p.sinks {
		sink(ctx, rep)
	}
	return rep
}
