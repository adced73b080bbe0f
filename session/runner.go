package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/dialogue"
	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/reasoning"
	"github.com/AltairaLabs/callkit/statestore"
	"github.com/AltairaLabs/callkit/stt"
	"github.com/AltairaLabs/callkit/telephony"
	"github.com/AltairaLabs/callkit/tts"
)

// Runner defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultExportTimeout    = 5 * time.Second

	utteranceBuffer = 16
)

// Transport is the media connection of one call. *telephony.Bridge
// satisfies it.
type Transport interface {
	telephony.Sender
	Handshake(ctx context.Context) (telephony.StartInfo, error)
	ReceiveFrame(ctx context.Context) (telephony.Frame, error)
	Closed() <-chan struct{}
	Close() error
	Stats() telephony.Stats
}

// Collaborators are the external services a call talks to. They are shared
// by every call and must be safe for concurrent use.
type Collaborators struct {
	Recognizer  stt.Recognizer
	Reasoner    reasoning.Reasoner
	Synthesizer tts.Service
}

// Config configures every call started by a Runner.
type Config struct {
	Dialogue dialogue.Config
	// Catalogue is the field-slot catalogue. Empty uses the default.
	Catalogue dialogue.Catalogue
	Framer    audio.FramerConfig
	Adapter   stt.AdapterConfig
	Pipeline  tts.PipelineConfig
	Pacer     telephony.PacerConfig

	HandshakeTimeout time.Duration
	// ExportTimeout bounds the final record save.
	ExportTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Framer == (audio.FramerConfig{}) {
		c.Framer = audio.DefaultFramerConfig()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithEventBus publishes call events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithRegistry registers each call while it runs.
func WithRegistry(reg *statestore.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithStore exports each finished call.
func WithStore(s statestore.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithPools bounds collaborator use across calls.
func WithPools(p Pools) Option {
	return func(r *Runner) { r.pools = p }
}

// WithIDGenerator replaces the random call id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// WithParentBinder is called with the call context and id before the first
// event is published, so trace listeners can parent the call span.
// telemetry.CallListener.BindParent fits.
func WithParentBinder(fn func(ctx context.Context, callID string)) Option {
	return func(r *Runner) { r.bindParent = fn }
}

// Runner runs calls. One Runner serves every call of the process.
type Runner struct {
	collab Collaborators
	cfg    Config

	bus        *events.EventBus
	registry   *statestore.Registry
	store      statestore.Store
	pools      Pools
	newID      func() string
	bindParent func(ctx context.Context, callID string)
}

// NewRunner creates a Runner.
func NewRunner(collab Collaborators, cfg Config, opts ...Option) (*Runner, error) {
	if collab.Recognizer == nil || collab.Reasoner == nil || collab.Synthesizer == nil {
		return nil, errors.New("session: recognizer, reasoner and synthesizer are required")
	}
	cfg.defaults()
	if err := cfg.Framer.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := cfg.Dialogue.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if len(cfg.Catalogue.Slots) > 0 {
		if err := cfg.Catalogue.Validate(); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	r := &Runner{
		collab: collab,
		cfg:    cfg,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// call holds the per-call wiring shared by the four tasks.
type call struct {
	t       Transport
	info    telephony.StartInfo
	emitter *events.Emitter

	framer   *audio.Framer
	adapter  *stt.Adapter
	pipeline *tts.Pipeline
	pacer    *telephony.Pacer
	monitor  *dialogue.ActivityMonitor
	orch     *dialogue.Orchestrator

	utterances chan dialogue.Utterance
	speak      chan dialogue.SpeakRequest
	played     chan dialogue.SpeakResult
	orchDone   chan struct{}

	mu       sync.Mutex
	cancelUt context.CancelFunc
}

// Run serves one call on t until the dialogue ends or the transport closes,
// then exports the finished session. It always closes t. Transport closure
// is a normal ending and returns the snapshot with a nil error.
func (r *Runner) Run(ctx context.Context, t Transport) (dialogue.Snapshot, error) {
	defer t.Close()

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	info, err := t.Handshake(hctx)
	cancel()
	if err != nil {
		return dialogue.Snapshot{}, fmt.Errorf("media handshake: %w", err)
	}

	id := r.newID()
	ctx = logger.WithLoggingContext(ctx, &logger.LoggingFields{
		CallID:    id,
		CallSID:   info.CallSID,
		StreamSID: info.StreamSID,
		Component: "session",
	})
	if r.bindParent != nil {
		r.bindParent(ctx, id)
	}

	c, err := r.newCall(id, t, info)
	if err != nil {
		return dialogue.Snapshot{}, err
	}

	logger.InfoContext(ctx, "call started", "encoding", info.MediaFormat.Encoding,
		"sample_rate", info.MediaFormat.SampleRate, "channels", info.MediaFormat.Channels)
	c.emitter.CallStarted(events.CallStartedData{
		AccountSID:   info.AccountSID,
		Encoding:     info.MediaFormat.Encoding,
		SampleRate:   info.MediaFormat.SampleRate,
		Channels:     info.MediaFormat.Channels,
		CustomParams: info.CustomParams,
	})
	sess := c.orch.Session()
	if r.registry != nil {
		if err := r.registry.Insert(statestore.ActiveCall{
			ID:        id,
			CallSID:   info.CallSID,
			StreamSID: info.StreamSID,
			State:     sess.State,
			StartTime: sess.StartTime,
		}); err != nil {
			logger.WarnContext(ctx, "call not registered", "error", err)
		}
	}

	runErr := c.run(ctx)

	snap := c.orch.Snapshot()
	if r.registry != nil {
		r.registry.MarkEnded(snap)
	}
	r.export(ctx, snap)

	if runErr != nil && !errors.Is(runErr, telephony.ErrClosed) && !errors.Is(runErr, context.Canceled) {
		return snap, runErr
	}
	return snap, nil
}

func (r *Runner) newCall(id string, t Transport, info telephony.StartInfo) (*call, error) {
	framer, err := audio.NewFramer(r.cfg.Framer)
	if err != nil {
		return nil, err
	}
	emitter := events.NewEmitter(r.bus, id, info.CallSID, info.StreamSID)

	adapterCfg := r.cfg.Adapter
	adapterCfg.Emitter = emitter
	adapterCfg.Leaser = r.pools.Recognition

	pipelineCfg := r.cfg.Pipeline
	pipelineCfg.Leaser = r.pools.Synthesis

	soft := reasoning.NewSoftReasoner(r.collab.Reasoner, reasoning.SoftConfig{
		Timeout: r.cfg.Dialogue.ReasoningTimeout,
		Leaser:  r.pools.Reasoning,
		Emitter: emitter,
	})

	sess := dialogue.NewCallSession(id, info.CallSID, info.StreamSID, time.Now())
	opts := []dialogue.Option{dialogue.WithEmitter(emitter)}
	if len(r.cfg.Catalogue.Slots) > 0 {
		opts = append(opts, dialogue.WithCatalogue(r.cfg.Catalogue))
	}

	return &call{
		t:          t,
		info:       info,
		emitter:    emitter,
		framer:     framer,
		adapter:    stt.NewAdapter(r.collab.Recognizer, adapterCfg),
		pipeline:   tts.NewPipeline(r.collab.Synthesizer, pipelineCfg),
		pacer:      telephony.NewPacer(t, r.cfg.Pacer),
		monitor:    dialogue.NewActivityMonitor(),
		orch:       dialogue.NewOrchestrator(sess, soft, r.cfg.Dialogue, opts...),
		utterances: make(chan dialogue.Utterance, utteranceBuffer),
		speak:      make(chan dialogue.SpeakRequest, 1),
		played:     make(chan dialogue.SpeakResult, 1),
		orchDone:   make(chan struct{}),
	}, nil
}

// run starts the four call tasks and waits for all of them.
func (c *call) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := c.adapter.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error { return c.receive(gctx) })
	g.Go(func() error { return c.listen(gctx) })
	g.Go(func() error { return c.converse(gctx) })
	g.Go(func() error { return c.speakLoop(gctx) })

	return g.Wait()
}

// receive reads inbound frames, runs them through the framer and feeds the
// activity monitor and the recognizer.
func (c *call) receive(ctx context.Context) error {
	ctx = logger.WithComponent(ctx, "receiver")
	defer func() {
		c.adapter.Send(c.framer.Flush())
		_ = c.adapter.Close()
		c.logSummary(ctx)
	}()

	for {
		f, err := c.t.ReceiveFrame(ctx)
		if err != nil {
			if errors.Is(err, telephony.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		ev := c.framer.Feed(f.PCM)
		c.monitor.Update(dialogue.Activity{
			IsSpeech:  ev.IsSpeech,
			Level:     ev.Level,
			Silence:   ev.SilenceDuration,
			SpeechRun: ev.SpeechDuration,
			Position:  f.Timestamp,
		})
		for _, w := range ev.Windows {
			c.adapter.Send(w)
		}
	}
}

// listen forwards final recognition results to the orchestrator.
func (c *call) listen(ctx context.Context) error {
	defer close(c.utterances)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.orchDone:
			return nil
		case u, ok := <-c.adapter.Utterances():
			if !ok {
				return nil
			}
			if !u.IsFinal {
				continue
			}
			select {
			case c.utterances <- dialogue.Utterance{
				Speaker:    dialogue.SpeakerCaller,
				Text:       u.Text,
				Confidence: u.Confidence,
				IsFinal:    true,
				Timestamp:  u.Timestamp,
			}:
			case <-c.orchDone:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// converse runs the orchestrator. When it returns the call is over and the
// transport is closed so the other tasks unwind.
func (c *call) converse(ctx context.Context) error {
	defer func() {
		close(c.orchDone)
		_ = c.t.Close()
	}()
	return c.orch.Run(ctx, dialogue.Inputs{
		Utterances: c.utterances,
		Activity:   c.monitor,
		Degraded:   c.adapter.Degraded(),
		Closed:     c.t.Closed(),
		Speak:      c.speak,
		Played:     c.played,
		Interrupt:  c.interrupt,
	})
}

// speakLoop synthesizes each agent utterance into the pacer and reports its
// playback back to the orchestrator.
func (c *call) speakLoop(ctx context.Context) error {
	ctx = logger.WithComponent(ctx, "speaker")

	pacerDone := make(chan error, 1)
	pctx, stopPacer := context.WithCancel(ctx)
	go func() { pacerDone <- c.pacer.Run(pctx) }()
	defer func() {
		stopPacer()
		if err := <-pacerDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, telephony.ErrClosed) {
			logger.DebugContext(ctx, "pacer stopped", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.orchDone:
			return nil
		case req := <-c.speak:
			res := c.say(ctx, req)
			select {
			case c.played <- res:
			case <-c.orchDone:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *call) say(ctx context.Context, req dialogue.SpeakRequest) dialogue.SpeakResult {
	uctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelUt = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelUt = nil
		c.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	sr, err := c.pipeline.Speak(uctx, req.Text, c.pacer)
	c.emitter.CollaboratorCall(c.pipeline.Name(), "synthesize", time.Since(start), err)
	out := dialogue.SpeakResult{ID: req.ID, Frames: sr.Frames, Audio: sr.Audio, Err: err}
	if sr.Frames > 0 {
		out.Latency = start.Sub(req.Decided) + sr.FirstFrame
	}
	if err != nil && sr.Frames == 0 {
		c.emitter.SynthesisFailed(req.Text, sr.Retried, err)
		return out
	}
	if uctx.Err() != nil {
		out.Interrupted = true
		out.Err = nil
		return out
	}

	done, err := c.pacer.Mark(uctx, "utt-"+strconv.Itoa(req.ID))
	if err != nil {
		out.Interrupted = uctx.Err() != nil
		if !out.Interrupted && out.Err == nil {
			out.Err = err
		}
		return out
	}
	select {
	case pb := <-done:
		out.Interrupted = pb.Interrupted
	case <-c.pacer.Done():
		out.Interrupted = true
	case <-c.orchDone:
		out.Interrupted = true
	case <-ctx.Done():
		out.Interrupted = true
	}
	return out
}

// interrupt stops the utterance being synthesized and drops audio not yet
// played. The orchestrator calls it on barge-in and on abort.
func (c *call) interrupt() {
	c.mu.Lock()
	cancel := c.cancelUt
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.pacer.Flush()
}

func (c *call) logSummary(ctx context.Context) {
	st := c.framer.Stats()
	ts := c.t.Stats()
	logger.InfoContext(ctx, "media stream stopped",
		"frames", st.TotalFrames,
		"duration", st.Duration,
		"speech_ratio", fmt.Sprintf("%.2f", st.SpeechRatio()),
		"speech_segments", st.SpeechSegments,
		"avg_level", fmt.Sprintf("%.1f", st.AvgLevel),
		"frames_dropped", ts.Dropped,
		"frames_sent", ts.Sent,
		"recognizer_dropped", c.adapter.Dropped())
}

// export hands the finished session to the record store. The call context
// may already be cancelled, so the save gets its own deadline.
func (r *Runner) export(ctx context.Context, snap dialogue.Snapshot) {
	if r.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ExportTimeout)
	defer cancel()
	if err := r.store.Save(sctx, statestore.NewCallRecord(snap)); err != nil {
		logger.ErrorContext(ctx, "call export failed", "error", err)
		return
	}
	logger.DebugContext(ctx, "call exported")
}
