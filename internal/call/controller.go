// Package call runs a morning call: it greets the user, alternates between
// listening and replying until the call is ended or the plan's time limit is
// reached, and records the finished call.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"MorningCall/internal/conversation"
	"MorningCall/internal/plan"
	"MorningCall/internal/session"
	"MorningCall/internal/speech"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultGreeting     = "Good morning! Let's get ready for the day."
	DefaultBeginMessage = "Good morning. I'm starting my morning routine. Please give me the first instruction."
	DefaultLang         = "en-US"

	DefaultPacingDelay            = time.Second
	DefaultRetryDelay             = 3 * time.Second
	DefaultTickInterval           = time.Second
	DefaultMaxRecognitionFailures = 10
)

// Store is the persistence the controller needs
type Store interface {
	APIKey(ctx context.Context) (string, error)
	Instructions(ctx context.Context) ([]session.Instruction, error)
	Plan(ctx context.Context) (plan.ID, error)
	CallLogs(ctx context.Context) ([]session.CallLog, error)
	SaveCallLog(ctx context.Context, entry session.CallLog) (session.CallLog, error)
}

// Engine produces assistant replies and keeps the transcript
type Engine interface {
	Reset()
	SendTurn(ctx context.Context, userText string, instructions []session.Instruction, ent plan.Entitlements) (string, error)
	Transcript() []session.Message
}

// Options configures a Controller. Zero values take the defaults above;
// MaxRecognitionFailures < 0 retries forever.
type Options struct {
	Greeting               string
	BeginMessage           string
	Lang                   string
	PacingDelay            time.Duration
	RetryDelay             time.Duration
	TickInterval           time.Duration
	MaxRecognitionFailures int
	Notifier               Notifier
	Logger                 *slog.Logger
	Tracer                 trace.Tracer
	Meter                  metric.Meter
	Now                    func() time.Time
}

// Controller is the call state machine. At most one call is active at a time.
type Controller struct {
	store     Store
	engine    Engine
	transport speech.Transport
	opts      Options
	notify    Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	started            metric.Int64Counter
	ended              metric.Int64Counter
	recognitionFailure metric.Int64Counter
	duration           metric.Float64Histogram

	mu      sync.Mutex
	current *activeCall
	wg      sync.WaitGroup
}

// activeCall is the state of one call. Every continuation of the call reads
// liveness from here, never from the controller.
type activeCall struct {
	ctx          context.Context
	cancel       context.CancelFunc
	span         trace.Span
	startedAt    time.Time
	ent          plan.Entitlements
	instructions []session.Instruction
	endOnce      sync.Once
}

func (c *activeCall) active() bool {
	return c.ctx.Err() == nil
}

// NewController creates a controller
func NewController(store Store, engine Engine, transport speech.Transport, opts Options) *Controller {
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.BeginMessage == "" {
		opts.BeginMessage = DefaultBeginMessage
	}
	if opts.Lang == "" {
		opts.Lang = DefaultLang
	}
	if opts.PacingDelay == 0 {
		opts.PacingDelay = DefaultPacingDelay
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.MaxRecognitionFailures == 0 {
		opts.MaxRecognitionFailures = DefaultMaxRecognitionFailures
	}
	if opts.Notifier == nil {
		opts.Notifier = func(Notice) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("morningcall/call")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("morningcall/call")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctl := &Controller{
		store:     store,
		engine:    engine,
		transport: transport,
		opts:      opts,
		notify:    opts.Notifier,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	ctl.initMetrics(opts.Meter)
	return ctl
}

func (ctl *Controller) initMetrics(meter metric.Meter) {
	var err error
	if ctl.started, err = meter.Int64Counter("calls.started", metric.WithDescription("Calls started")); err != nil {
		ctl.logger.Warn("failed to create counter", "name", "calls.started", "error", err)
	}
	if ctl.ended, err = meter.Int64Counter("calls.ended", metric.WithDescription("Calls ended, by reason")); err != nil {
		ctl.logger.Warn("failed to create counter", "name", "calls.ended", "error", err)
	}
	if ctl.recognitionFailure, err = meter.Int64Counter("speech.recognition.failures", metric.WithDescription("Failed recognition attempts")); err != nil {
		ctl.logger.Warn("failed to create counter", "name", "speech.recognition.failures", "error", err)
	}
	if ctl.duration, err = meter.Float64Histogram("calls.duration", metric.WithDescription("Call duration in seconds"), metric.WithUnit("s")); err != nil {
		ctl.logger.Warn("failed to create histogram", "name", "calls.duration", "error", err)
	}
}

// StartCall starts a call. Precondition failures are returned as a
// *PreconditionError before anything is spoken or reset.
func (ctl *Controller) StartCall(ctx context.Context) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.current != nil {
		return &PreconditionError{Reason: ErrCallActive}
	}

	key, err := ctl.store.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if key == "" {
		return &PreconditionError{Reason: ErrNoCredential}
	}

	all, err := ctl.store.Instructions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read instructions: %w", err)
	}
	instructions := session.ActiveInstructions(all)
	if len(instructions) == 0 {
		return &PreconditionError{Reason: ErrNoActiveInstructions}
	}

	planID, err := ctl.store.Plan(ctx)
	if err != nil {
		ctl.logger.Warn("failed to read plan, using default", "error", err)
		planID = plan.Default
	}
	ent := plan.Resolve(planID)

	ctl.engine.Reset()

	callCtx, cancel := context.WithCancel(context.Background())
	callCtx, span := ctl.tracer.Start(callCtx, "morning_call", trace.WithAttributes(
		attribute.String("plan", string(ent.Plan)),
		attribute.Int("instructions", len(instructions)),
	))
	c := &activeCall{
		ctx:          callCtx,
		cancel:       cancel,
		span:         span,
		startedAt:    ctl.now(),
		ent:          ent,
		instructions: instructions,
	}
	ctl.current = c

	if ctl.started != nil {
		ctl.started.Add(ctx, 1, metric.WithAttributes(attribute.String("plan", string(ent.Plan))))
	}
	ctl.logger.Info("call started",
		"plan", ent.Plan,
		"limit_seconds", ent.DurationLimitSeconds(),
		"instructions", len(instructions),
	)
	ctl.notify(Notice{Kind: NoticeCallStarted, Message: fmt.Sprintf("Call started (%s plan, %d seconds)", ent.Name, ent.DurationLimitSeconds())})

	ctl.wg.Add(2)
	go ctl.countdown(c)
	go ctl.run(c)
	return nil
}

// EndCall ends the active call and returns the call log it wrote, if any.
// Ending when no call is active is a no-op.
func (ctl *Controller) EndCall(ctx context.Context) (*session.CallLog, error) {
	ctl.mu.Lock()
	c := ctl.current
	ctl.mu.Unlock()

	if c == nil {
		return nil, nil
	}
	return ctl.finish(ctx, c, ReasonUser)
}

// Status reports the controller state
func (ctl *Controller) Status() Status {
	ctl.mu.Lock()
	c := ctl.current
	ctl.mu.Unlock()

	if c == nil || !c.active() {
		return Status{State: StateIdle}
	}
	return Status{
		State:     StateActive,
		StartedAt: c.startedAt,
		Remaining: ctl.remaining(c),
		Plan:      c.ent.Plan,
	}
}

// CallLogs lists recorded calls, newest first, if the current plan allows it
func (ctl *Controller) CallLogs(ctx context.Context) ([]session.CallLog, error) {
	planID, err := ctl.store.Plan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	if !plan.Resolve(planID).HasLogAccess {
		return nil, ErrLogAccessDenied
	}
	return ctl.store.CallLogs(ctx)
}

// Wait blocks until the goroutines of ended calls have returned
func (ctl *Controller) Wait() {
	ctl.wg.Wait()
}

func (ctl *Controller) remaining(c *activeCall) time.Duration {
	left := c.ent.DurationLimit - ctl.now().Sub(c.startedAt)
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// finish ends c exactly once. Later calls return nil, nil.
func (ctl *Controller) finish(ctx context.Context, c *activeCall, reason Reason) (*session.CallLog, error) {
	var (
		entry *session.CallLog
		err   error
	)
	c.endOnce.Do(func() {
		c.cancel()

		// Snapshot before releasing current: the next StartCall resets the engine.
		elapsed := ctl.now().Sub(c.startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		seconds := int(elapsed / time.Second)
		transcript := ctl.engine.Transcript()

		ctl.mu.Lock()
		if ctl.current == c {
			ctl.current = nil
		}
		ctl.mu.Unlock()

		attrs := metric.WithAttributes(
			attribute.String("plan", string(c.ent.Plan)),
			attribute.String("reason", string(reason)),
		)
		if ctl.ended != nil {
			ctl.ended.Add(ctx, 1, attrs)
		}
		if ctl.duration != nil {
			ctl.duration.Record(ctx, elapsed.Seconds(), attrs)
		}
		c.span.SetAttributes(
			attribute.String("reason", string(reason)),
			attribute.Int("duration_seconds", seconds),
		)
		defer c.span.End()

		ctl.logger.Info("call ended", "reason", reason, "duration_seconds", seconds, "plan", c.ent.Plan)

		if c.ent.HasLogAccess {
			saved, saveErr := ctl.store.SaveCallLog(context.WithoutCancel(ctx), session.CallLog{
				Date:         c.startedAt,
				Duration:     seconds,
				Instructions: c.instructions,
				Conversation: transcript,
			})
			if saveErr != nil {
				ctl.logger.Error("failed to save call log", "error", saveErr)
				ctl.notify(Notice{Kind: NoticeLogWriteFailed, Message: "The call ended but its log could not be saved."})
				err = fmt.Errorf("failed to save call log: %w", saveErr)
			} else {
				entry = &saved
			}
		}

		ctl.notify(Notice{Kind: NoticeCallEnded, Message: fmt.Sprintf("Call ended after %d seconds", seconds)})
	})
	return entry, err
}

// countdown ends c once the plan's time limit has elapsed
func (ctl *Controller) countdown(c *activeCall) {
	defer ctl.wg.Done()

	ticker := time.NewTicker(ctl.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if ctl.now().Sub(c.startedAt) < c.ent.DurationLimit {
				continue
			}
			if !c.active() {
				return
			}
			ctl.notify(Notice{Kind: NoticeTimeLimit, Message: "Time limit reached."})
			ctl.finish(context.Background(), c, ReasonTimeout)
			return
		}
	}
}

// run greets the user, requests the first instruction and then loops
// listen, reply, speak until c ends.
func (ctl *Controller) run(c *activeCall) {
	defer ctl.wg.Done()

	ctl.speak(c, ctl.opts.Greeting)

	reply, ok := ctl.turn(c, ctl.opts.BeginMessage)
	if !ok {
		return
	}
	ctl.speak(c, reply)

	failures := 0
	delay := ctl.opts.PacingDelay
	for {
		if !ctl.sleep(c, delay) || !c.active() {
			return
		}

		text, err := ctl.transport.Recognize(c.ctx, ctl.opts.Lang)
		if !c.active() {
			return
		}
		if err != nil {
			failures++
			if ctl.recognitionFailure != nil {
				ctl.recognitionFailure.Add(c.ctx, 1)
			}
			ctl.logger.Warn("speech recognition failed", "error", err, "consecutive_failures", failures)
			ctl.notify(Notice{Kind: NoticeRecognitionFailed, Message: recognitionMessage(err)})

			if limit := ctl.opts.MaxRecognitionFailures; limit > 0 && failures >= limit {
				ctl.notify(Notice{Kind: NoticeRecognitionGaveUp, Message: fmt.Sprintf("Speech recognition failed %d times in a row; ending the call.", failures)})
				ctl.finish(context.Background(), c, ReasonRecognition)
				return
			}
			delay = ctl.opts.RetryDelay
			continue
		}
		failures = 0

		ctl.logger.Debug("recognized", "text", text)
		reply, ok := ctl.turn(c, text)
		if !ok {
			return
		}
		ctl.speak(c, reply)
		delay = ctl.opts.PacingDelay
	}
}

// turn asks the engine for a reply. It reports false when the call is over,
// ending it first if the engine failed.
func (ctl *Controller) turn(c *activeCall, text string) (string, bool) {
	if !c.active() {
		return "", false
	}
	reply, err := ctl.engine.SendTurn(c.ctx, text, c.instructions, c.ent)
	if !c.active() {
		return "", false
	}
	if err != nil {
		if errors.Is(err, conversation.ErrSearchUnavailable) {
			ctl.logger.Warn("web search unavailable", "error", err)
			ctl.notify(Notice{Kind: NoticeSearchUnavailable, Message: "Web search is unavailable; answering without it."})
			return reply, true
		}
		ctl.logger.Error("conversation turn failed", "error", err)
		ctl.notify(Notice{Kind: NoticeUpstreamError, Message: fmt.Sprintf("The assistant could not reply: %v", err)})
		ctl.finish(context.Background(), c, ReasonUpstreamError)
		return "", false
	}
	return reply, true
}

// speak plays text; failures are reported and the call carries on
func (ctl *Controller) speak(c *activeCall, text string) {
	if !c.active() || text == "" {
		return
	}
	if err := ctl.transport.Speak(c.ctx, text, ctl.opts.Lang); err != nil && c.active() {
		ctl.logger.Warn("speech synthesis failed", "error", err)
		ctl.notify(Notice{Kind: NoticeSpeechFailed, Message: "Could not play the reply."})
	}
}

// sleep waits d, reporting false if c ended first
func (ctl *Controller) sleep(c *activeCall, d time.Duration) bool {
	if d <= 0 {
		return c.active()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func recognitionMessage(err error) string {
	switch {
	case errors.Is(err, speech.ErrPermissionDenied):
		return "Microphone access was denied. Retrying."
	case errors.Is(err, speech.ErrNoSpeech):
		return "Didn't catch that. Listening again."
	default:
		return "Speech recognition failed. Retrying."
	}
}
