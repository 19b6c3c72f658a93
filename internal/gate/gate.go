// Package gate bounds calls to the text-generation backend.
//
// A [Gate] admits at most MaxConcurrent generations at a time, rejects
// oversized inputs before they reach the model and enforces a hard deadline
// per call. Admitted calls are tracked in an active-request table keyed by a
// generated request ID; every exit path removes the entry, including
// timeouts and caller cancellation. The same table backs resource reporting
// and the HTTP safety middleware.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// Defaults for [Config].
const (
	DefaultMaxConcurrent   = 3
	DefaultMaxPromptChars  = 5000
	DefaultTimeout         = 45 * time.Second
	DefaultSoftMemoryBytes = 1 << 30
	DefaultHardMemoryBytes = 3 << 29
)

// Config holds the gate limits.
type Config struct {
	// MaxConcurrent caps the number of in-flight generations.
	MaxConcurrent int

	// MaxPromptChars caps the input size in characters. For message lists
	// the contents of all messages are counted.
	MaxPromptChars int

	// Timeout is the hard per-call deadline.
	Timeout time.Duration

	// SoftMemoryBytes makes [Gate.Monitor] log a warning when exceeded.
	SoftMemoryBytes uint64

	// HardMemoryBytes makes [Gate.Middleware] reject requests with 503 when
	// exceeded.
	HardMemoryBytes uint64
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   DefaultMaxConcurrent,
		MaxPromptChars:  DefaultMaxPromptChars,
		Timeout:         DefaultTimeout,
		SoftMemoryBytes: DefaultSoftMemoryBytes,
		HardMemoryBytes: DefaultHardMemoryBytes,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = d.MaxPromptChars
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SoftMemoryBytes == 0 {
		c.SoftMemoryBytes = d.SoftMemoryBytes
	}
	if c.HardMemoryBytes == 0 {
		c.HardMemoryBytes = d.HardMemoryBytes
	}
	return c
}

// Input is either a raw prompt or a chat message list. Messages win when
// both are set.
type Input struct {
	Prompt   string
	Messages []llm.Message
}

// Len returns the input size in characters.
func (in Input) Len() int {
	if len(in.Messages) == 0 {
		return len([]rune(in.Prompt))
	}
	n := 0
	for _, m := range in.Messages {
		n += len([]rune(m.Content))
	}
	return n
}

func (in Input) empty() bool {
	if len(in.Messages) > 0 {
		return false
	}
	return strings.TrimSpace(in.Prompt) == ""
}

// Params are the generation knobs forwarded to the backend.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Output is the result of a gated generation.
type Output struct {
	RequestID  string
	Text       string
	TokensUsed int
	Duration   time.Duration
}

// Request is one entry of the active-request table.
type Request struct {
	ID          string    `json:"id"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	PromptChars int       `json:"prompt_chars"`
	Streaming   bool      `json:"streaming"`
	StartedAt   time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// Gate wraps an [llm.Provider] with admission control and deadlines.
type Gate struct {
	provider llm.Provider
	cfg      Config
	halt     func()
	metrics  *observe.Metrics
	heap     func() uint64
	started  time.Time

	mu     sync.Mutex
	active map[string]*Request
}

// Option configures a [Gate].
type Option func(*Gate)

// WithConfig sets the limits. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(g *Gate) { g.cfg = cfg }
}

// WithHaltHook registers a function [Gate.EmergencyStop] calls to ask the
// model backend to stop, for example by restarting a local model server.
func WithHaltHook(fn func()) Option {
	return func(g *Gate) { g.halt = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithMemoryReader overrides how heap usage is measured.
func WithMemoryReader(fn func() uint64) Option {
	return func(g *Gate) { g.heap = fn }
}

// New creates a Gate in front of p.
func New(p llm.Provider, opts ...Option) (*Gate, error) {
	if p == nil {
		return nil, fmt.Errorf("gate: provider must not be nil")
	}
	g := &Gate{
		provider: p,
		cfg:      DefaultConfig(),
		heap:     heapAlloc,
		started:  time.Now(),
		active:   make(map[string]*Request),
	}
	for _, o := range opts {
		o(g)
	}
	g.cfg = g.cfg.withDefaults()
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// Config returns the effective limits.
func (g *Gate) Config() Config { return g.cfg }

// admit validates the input and claims a slot. The returned context carries
// the call deadline.
func (g *Gate) admit(ctx context.Context, in Input, p Params, streaming bool) (*Request, context.Context, error) {
	if in.empty() {
		return nil, nil, ErrEmptyInput
	}
	if n := in.Len(); n > g.cfg.MaxPromptChars {
		g.metrics.RecordGateRejection(ctx, "prompt_too_long")
		return nil, nil, fmt.Errorf("%w: %d characters, limit %d", ErrPromptTooLong, n, g.cfg.MaxPromptChars)
	}

	g.mu.Lock()
	if len(g.active) >= g.cfg.MaxConcurrent {
		n := len(g.active)
		g.mu.Unlock()
		g.metrics.RecordGateRejection(ctx, "too_many_concurrent")
		return nil, nil, fmt.Errorf("%w: %d active, limit %d", ErrTooManyConcurrent, n, g.cfg.MaxConcurrent)
	}
	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	req := &Request{
		ID:          uuid.NewString(),
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		PromptChars: in.Len(),
		Streaming:   streaming,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	g.active[req.ID] = req
	g.mu.Unlock()

	g.metrics.ActiveGenerations.Add(ctx, 1)
	return req, cctx, nil
}

// release removes req from the table. Entries already dropped by
// EmergencyStop are left alone.
func (g *Gate) release(ctx context.Context, req *Request) {
	req.cancel()
	g.mu.Lock()
	cur, ok := g.active[req.ID]
	if ok && cur == req {
		delete(g.active, req.ID)
	}
	g.mu.Unlock()
	if ok {
		g.metrics.ActiveGenerations.Add(ctx, -1)
	}
}

// classify maps a failed call onto the gate's error taxonomy.
func (g *Gate) classify(ctx, cctx context.Context, req *Request, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("gate: request %s: %w", req.ID, ctx.Err())
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s (request %s)", ErrTimeout, g.cfg.Timeout, req.ID)
	case errors.Is(cctx.Err(), context.Canceled):
		// Cancelled by EmergencyStop.
		return &UpstreamError{RequestID: req.ID, Err: errors.New("generation halted")}
	default:
		return &UpstreamError{RequestID: req.ID, Err: err}
	}
}

func (g *Gate) record(ctx context.Context, start time.Time, status string) {
	g.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// SafeGenerate runs one completion under the gate limits. It returns
// [ErrEmptyInput], [ErrPromptTooLong] or [ErrTooManyConcurrent] before
// contacting the backend, [ErrTimeout] when the deadline passes and
// *[UpstreamError] for backend failures.
func (g *Gate) SafeGenerate(ctx context.Context, in Input, p Params) (out *Output, err error) {
	req, cctx, err := g.admit(ctx, in, p, false)
	if err != nil {
		return nil, err
	}
	defer g.release(ctx, req)

	start := time.Now()
	defer func() { g.record(ctx, start, statusOf(err)) }()

	type result struct {
		resp *llm.CompletionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.provider.Complete(cctx, llm.CompletionRequest{
			Prompt:      in.Prompt,
			Messages:    in.Messages,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-cctx.Done():
		// The backend may ignore cancellation; the slot is freed anyway.
		return nil, g.classify(ctx, cctx, req, cctx.Err())
	}
	if res.err != nil {
		return nil, g.classify(ctx, cctx, req, res.err)
	}
	if res.resp == nil {
		return nil, &UpstreamError{RequestID: req.ID, Err: errors.New("empty response")}
	}

	tokens := res.resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = (in.Len() + len([]rune(res.resp.Content)) + 3) / 4
	}
	return &Output{
		RequestID:  req.ID,
		Text:       res.resp.Content,
		TokensUsed: tokens,
		Duration:   time.Since(start),
	}, nil
}

// SafeStream is the streaming counterpart of [Gate.SafeGenerate]. onChunk
// is called for every non-empty text fragment in order; the returned Output
// holds the accumulated text. The deadline covers the whole stream.
func (g *Gate) SafeStream(ctx context.Context, in Input, p Params, onChunk func(string)) (out *Output, err error) {
	req, cctx, err := g.admit(ctx, in, p, true)
	if err != nil {
		return nil, err
	}
	defer g.release(ctx, req)

	start := time.Now()
	defer func() { g.record(ctx, start, statusOf(err)) }()

	ch, err := g.provider.StreamCompletion(cctx, llm.CompletionRequest{
		Prompt:      in.Prompt,
		Messages:    in.Messages,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return nil, g.classify(ctx, cctx, req, err)
	}

	var sb strings.Builder
	for {
		select {
		case <-cctx.Done():
			return nil, g.classify(ctx, cctx, req, cctx.Err())
		case c, ok := <-ch:
			if !ok {
				text := sb.String()
				return &Output{
					RequestID:  req.ID,
					Text:       text,
					TokensUsed: (in.Len() + len([]rune(text)) + 3) / 4,
					Duration:   time.Since(start),
				}, nil
			}
			if c.FinishReason == llm.FinishReasonError {
				return nil, &UpstreamError{RequestID: req.ID, Err: errors.New(c.Text)}
			}
			if c.Text == "" {
				continue
			}
			sb.WriteString(c.Text)
			if onChunk != nil {
				onChunk(c.Text)
			}
		}
	}
}

// EmergencyStop clears the active-request table so new requests are admitted
// immediately, cancels the contexts of in-flight calls and invokes the halt
// hook. In-flight calls are not guaranteed to stop synchronously. It returns
// the number of cleared requests.
func (g *Gate) EmergencyStop() int {
	g.mu.Lock()
	cleared := make([]*Request, 0, len(g.active))
	for _, r := range g.active {
		cleared = append(cleared, r)
	}
	g.active = make(map[string]*Request)
	g.mu.Unlock()

	for _, r := range cleared {
		r.cancel()
	}
	ctx := context.Background()
	g.metrics.ActiveGenerations.Add(ctx, -int64(len(cleared)))

	slog.Warn("gate: emergency stop", "cleared", len(cleared))
	if g.halt != nil {
		g.halt()
	}
	return len(cleared)
}

// Active returns a snapshot of the active requests ordered by start time.
func (g *Gate) Active() []Request {
	g.mu.Lock()
	out := make([]Request, 0, len(g.active))
	for _, r := range g.active {
		cp := *r
		cp.cancel = nil
		out = append(out, cp)
	}
	g.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// ActiveCount returns the number of in-flight generations.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
