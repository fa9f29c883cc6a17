package claim

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/rs/zerolog/log"
)

// Analyzer is the damage analysis collaborator: one request per call, one
// report or one error as the outcome.
type Analyzer interface {
	Analyze(ctx context.Context, image *filehandler.Payload) (*report.DamageReport, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, image *filehandler.Payload) (*report.DamageReport, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, image *filehandler.Payload) (*report.DamageReport, error) {
	return f(ctx, image)
}

// Decoder turns a raw upload into an image payload.
type Decoder interface {
	Decode(ctx context.Context, filename string, r io.Reader) (*filehandler.Payload, error)
}

// Observer is notified with every snapshot the controller commits and the
// generation it was committed under, in commit order. It runs while later
// commits wait for it, so it must not call back into the controller, not
// even State or Generation.
type Observer func(s State, generation uint64)

// CompletionHook runs once, after a delay, when an analysis completes. It is
// cancelled if the claim is reset or superseded before it fires.
type CompletionHook func(State)

// Options configures a Controller. Only Analyzer is required.
type Options struct {
	Analyzer Analyzer
	Decoder  Decoder

	// AnalysisTimeout bounds one analysis call. Zero means no limit.
	AnalysisTimeout time.Duration

	Observer Observer

	OnCompleted    CompletionHook
	CompletedDelay time.Duration

	// Name identifies the claim in logs.
	Name string
}

// Controller owns one claim record and enforces its transitions.
// All methods are safe for concurrent use.
type Controller struct {
	opts Options

	// notifyMu orders observer callbacks; it is taken before mu is released
	// so snapshots are delivered in commit order.
	notifyMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	timer      *time.Timer
}

// NewController creates a controller in the initial idle state.
func NewController(opts Options) *Controller {
	if opts.Decoder == nil {
		opts.Decoder = filehandler.ImageDecoder{}
	}
	if opts.Analyzer == nil {
		opts.Analyzer = AnalyzerFunc(func(context.Context, *filehandler.Payload) (*report.DamageReport, error) {
			return nil, errors.New("no damage analyzer configured")
		})
	}
	return &Controller{opts: opts, state: State{Status: StatusIdle}}
}

// Restore creates a controller seeded with a previously committed snapshot.
// A snapshot caught mid-analysis cannot resume its lost call and is restored
// as an error so the user can retry.
func Restore(opts Options, s State) *Controller {
	c := NewController(opts)
	if s.Status == "" {
		s.Status = StatusIdle
	}
	if s.Status == StatusAnalyzing {
		s = State{Image: s.Image, Status: StatusError, Error: "The previous analysis was interrupted. Please try again."}
	}
	c.state = normalize(s)
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the current generation counter.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SelectImage decodes r into a payload and makes it the claim's photo.
// On success the claim returns to idle with no report. A decode failure
// puts the claim in the error state without an image. The call supersedes
// any in-flight analysis or decode.
func (c *Controller) SelectImage(ctx context.Context, filename string, r io.Reader) State {
	c.mu.Lock()
	gen := c.supersedeLocked()
	c.mu.Unlock()

	payload, err := c.opts.Decoder.Decode(ctx, filename, r)

	if err != nil {
		log.Warn().Err(err).Str("claim", c.opts.Name).Str("filename", filename).Msg("Claim photo could not be decoded")
		return c.commit(gen, State{Status: StatusError, Error: decodeMessage(err)})
	}
	return c.commit(gen, State{Image: payload, Status: StatusIdle})
}

// SetImage makes an already decoded payload the claim's photo.
func (c *Controller) SetImage(payload *filehandler.Payload) State {
	c.mu.Lock()
	gen := c.supersedeLocked()
	c.mu.Unlock()
	if payload == nil {
		return c.commit(gen, State{Status: StatusIdle})
	}
	return c.commit(gen, State{Image: payload, Status: StatusIdle})
}

// StartAnalysis runs the analysis for the selected photo and returns the
// resulting snapshot. Without a photo, or while an analysis is already
// running, it changes nothing and returns the current snapshot.
func (c *Controller) StartAnalysis(ctx context.Context) State {
	run, s, ok := c.beginAnalysis(ctx)
	if !ok {
		return s
	}
	return run()
}

// StartAnalysisAsync starts the analysis in the background and returns the
// analyzing snapshot immediately. The analysis is detached from ctx's
// cancellation; Reset and SelectImage cancel it.
func (c *Controller) StartAnalysisAsync(ctx context.Context) State {
	run, s, ok := c.beginAnalysis(context.WithoutCancel(ctx))
	if !ok {
		return s
	}
	go run()
	return s
}

func (c *Controller) beginAnalysis(ctx context.Context) (func() State, State, bool) {
	c.mu.Lock()
	if c.state.Image == nil || c.state.Status == StatusAnalyzing {
		s := c.state
		c.mu.Unlock()
		return nil, s, false
	}

	gen := c.supersedeLocked()
	image := c.state.Image

	var callCtx context.Context
	var cancel context.CancelFunc
	if c.opts.AnalysisTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.opts.AnalysisTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel

	s := c.commitLocked(State{Image: image, Status: StatusAnalyzing})

	log.Info().Str("claim", c.opts.Name).Uint64("generation", gen).Msg("Starting damage analysis")

	run := func() State {
		defer cancel()
		start := time.Now()
		result, err := c.opts.Analyzer.Analyze(callCtx, image)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn().Err(err).Str("claim", c.opts.Name).Dur("duration", elapsed).Msg("Damage analysis failed")
			return c.commit(gen, State{Image: image, Status: StatusError, Error: failureMessage(err)})
		}
		if result == nil {
			log.Warn().Str("claim", c.opts.Name).Dur("duration", elapsed).Msg("Damage analysis returned no report")
			return c.commit(gen, State{Image: image, Status: StatusError, Error: FallbackErrorMessage})
		}

		log.Info().
			Str("claim", c.opts.Name).
			Dur("duration", elapsed).
			Int("parts", len(result.Parts)).
			Float64("total", result.TotalEstimatedCost).
			Str("currency", result.Currency).
			Msg("Damage analysis complete")
		return c.commit(gen, State{Image: image, Status: StatusCompleted, Report: result})
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	c.notify(s, gen)
	return run, s, true
}

// Reset discards the claim and returns it to the initial idle state.
// In-flight work is cancelled and its eventual result ignored.
func (c *Controller) Reset() State {
	c.mu.Lock()
	gen := c.supersedeLocked()
	c.mu.Unlock()
	return c.commit(gen, State{Status: StatusIdle})
}

// Close cancels in-flight work and pending hooks without changing state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
}

// supersedeLocked starts a new generation: pending work from older
// generations is cancelled and will be discarded when it completes.
func (c *Controller) supersedeLocked() uint64 {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return c.generation
}

// commit applies s if gen is still current, notifies the observer and
// returns the resulting snapshot.
func (c *Controller) commit(gen uint64, s State) State {
	c.mu.Lock()
	if gen != c.generation {
		current, currentGen := c.state, c.generation
		c.mu.Unlock()
		log.Debug().
			Str("claim", c.opts.Name).
			Uint64("generation", gen).
			Uint64("current", currentGen).
			Str("dropped_status", string(s.Status)).
			Msg("Dropping stale claim update")
		return current
	}

	committed := c.commitLocked(s)
	if committed.Status != StatusAnalyzing {
		c.cancel = nil
	}
	if committed.Status == StatusCompleted && c.opts.OnCompleted != nil {
		hook := c.opts.OnCompleted
		c.timer = time.AfterFunc(c.opts.CompletedDelay, func() {
			c.mu.Lock()
			stale := gen != c.generation
			c.mu.Unlock()
			if !stale {
				hook(committed)
			}
		})
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	c.notify(committed, gen)
	return committed
}

func (c *Controller) commitLocked(s State) State {
	c.state = normalize(s)
	return c.state
}

// notify delivers s to the observer and releases notifyMu.
func (c *Controller) notify(s State, gen uint64) {
	defer c.notifyMu.Unlock()
	if c.opts.Observer != nil {
		c.opts.Observer(s, gen)
	}
}

// normalize enforces the record invariants: a report only when completed,
// an error message only when failed.
func normalize(s State) State {
	if s.Status != StatusCompleted {
		s.Report = nil
	}
	if s.Status != StatusError {
		s.Error = ""
	} else if strings.TrimSpace(s.Error) == "" {
		s.Error = FallbackErrorMessage
	}
	return s
}

// messager is implemented by errors that carry a user-facing message.
type messager interface {
	UserMessage() string
}

// failureMessage picks the user-facing text for an analysis failure.
func failureMessage(err error) string {
	var m messager
	classified := errors.As(err, &m)
	if classified {
		if msg := strings.TrimSpace(m.UserMessage()); msg != "" {
			return msg
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The damage analysis timed out. Please try again."
	}
	if classified {
		// A classified error without a message carries internal detail only.
		return FallbackErrorMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackErrorMessage
}

func decodeMessage(err error) string {
	var de *filehandler.DecodeError
	if errors.As(err, &de) && strings.TrimSpace(de.Message) != "" {
		return de.Message
	}
	return failureMessage(err)
}
