package dialogue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/reasoning"
)

// recentTurns is the conversation window passed to reasoning.
const recentTurns = 5

// minContainedWords is the shortest earlier utterance that counts as
// repeated when it appears inside a new candidate.
const minContainedWords = 3

// ErrSpeakTimeout is reported for agent utterances that exceeded SpeakTimeout.
var ErrSpeakTimeout = errors.New("agent utterance timed out")

// Reasoner is the fail-soft reasoning collaborator. reasoning.SoftReasoner
// satisfies it.
type Reasoner interface {
	Name() string
	Extract(ctx context.Context, req reasoning.ExtractRequest) (reasoning.Extraction, reasoning.Outcome)
	Respond(ctx context.Context, req reasoning.RespondRequest) (string, reasoning.Outcome)
}

// SpeakRequest asks the speaker task to play one agent utterance.
type SpeakRequest struct {
	ID   int
	Text string
	Kind UtteranceKind
	// Decided is when the orchestrator took the turn.
	Decided time.Time
}

// SpeakResult reports the end of an agent utterance's playback.
type SpeakResult struct {
	ID     int
	Frames int
	Audio  time.Duration
	// Latency is the time from Decided to the first frame.
	Latency     time.Duration
	Interrupted bool
	Err         error
}

// Inputs are the channels connecting the orchestrator to the other call
// tasks. The orchestrator only receives on them, except Speak.
type Inputs struct {
	// Utterances carries final caller utterances in order.
	Utterances <-chan Utterance
	Activity   *ActivityMonitor
	// Degraded is closed when recognition is given up.
	Degraded <-chan struct{}
	// Closed is closed when the media transport is gone.
	Closed <-chan struct{}

	Speak  chan<- SpeakRequest
	Played <-chan SpeakResult
	// Interrupt stops the current agent utterance. Its SpeakResult still arrives.
	Interrupt func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for deterministic tests.
func WithClock(now TimeFunc) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.m.now = now
	}
}

// WithEmitter publishes call events.
func WithEmitter(e *events.Emitter) Option {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

// WithCatalogue replaces the default gym catalogue.
func WithCatalogue(c Catalogue) Option {
	return func(o *Orchestrator) {
		o.catalogue = c
		o.specs = c.Specs()
	}
}

// Orchestrator is the turn-taking state machine of one call. Run is the only
// code that mutates its CallSession.
type Orchestrator struct {
	cfg       Config
	catalogue Catalogue
	specs     []reasoning.FieldSpec
	reasoner  Reasoner
	emitter   *events.Emitter
	now       TimeFunc

	sess  *CallSession
	m     machine
	barge *audio.BargeInDetector

	in      Inputs
	callCtx context.Context

	greetStart   time.Time
	listenStart  time.Time
	cooldownFrom time.Time
	speakStart   time.Time

	pending *SpeakRequest
	nextID  int

	openingPending bool
	turnFinal      bool
	carryFinal     bool
}

// NewOrchestrator creates an orchestrator for sess.
func NewOrchestrator(sess *CallSession, r Reasoner, cfg Config, opts ...Option) *Orchestrator {
	cfg.defaults()
	cat := DefaultCatalogue()
	o := &Orchestrator{
		cfg:       cfg,
		catalogue: cat,
		specs:     cat.Specs(),
		reasoner:  r,
		now:       time.Now,
		sess:      sess,
		m:         machine{sess: sess, now: time.Now},
		barge:     audio.NewBargeInDetector(cfg.BargeIn, cfg.BargeInMinSpeech),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the owned session. Callers must not read it while Run is
// executing.
func (o *Orchestrator) Session() *CallSession {
	return o.sess
}

// Completion is the session's completion ratio in [0,1].
func (o *Orchestrator) Completion() float64 {
	return o.catalogue.Completion(o.sess.Fields)
}

// Snapshot copies the session. Callers must not use it while Run is executing.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.sess.Snapshot(o.Completion())
}

// Run drives the call from Greeting to Ended. It returns nil when the call
// ended normally, including on transport closure, and an error wrapping
// ErrInvariant if the state machine was violated.
func (o *Orchestrator) Run(ctx context.Context, in Inputs) (err error) {
	if in.Activity == nil {
		in.Activity = NewActivityMonitor()
	}
	if in.Interrupt == nil {
		in.Interrupt = func() {}
	}
	o.in = in
	ctx = logger.WithComponent(ctx, "orchestrator")

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.callCtx = callCtx
	go func() {
		select {
		case <-in.Closed:
			cancel()
		case <-callCtx.Done():
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			err = o.fail(ctx, &InvariantError{State: o.sess.State, Op: "run", Detail: fmt.Sprintf("panic: %v", p)})
		}
	}()

	o.greetStart = o.now()
	if err := o.enter(ctx, StateGreeting, "transport_ready"); err != nil {
		return o.fail(ctx, err)
	}

	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	for o.sess.State != StateEnded {
		var err error
		select {
		case <-ctx.Done():
			reason := EndShutdown
			if isClosed(in.Closed) {
				reason = EndTransportClosed
			}
			err = o.abort(ctx, reason)
		case <-in.Closed:
			err = o.abort(ctx, EndTransportClosed)
		case u, ok := <-o.in.Utterances:
			if !ok {
				o.in.Utterances = nil
				continue
			}
			err = o.onUtterance(ctx, u)
		case <-o.in.Degraded:
			o.in.Degraded = nil
			o.sess.Degraded = true
			logger.WarnContext(ctx, "recognition degraded, switching to timed turns",
				"interval", o.cfg.DegradedTurnInterval)
		case <-o.in.Activity.C():
			err = o.onActivity(ctx)
		case res := <-o.in.Played:
			err = o.onPlayed(ctx, res)
		case <-ticker.C:
			err = o.onTick(ctx)
		}
		if err != nil {
			return o.fail(ctx, err)
		}
	}
	return nil
}

func (o *Orchestrator) enter(ctx context.Context, to State, reason string) error {
	from := o.sess.State
	if err := o.m.transition(to, reason); err != nil {
		return err
	}
	logger.DebugContext(ctx, "state changed", "from", from, "to", to, "reason", reason)
	o.emitter.StateChanged(string(from), string(to), reason)
	return nil
}

func (o *Orchestrator) onUtterance(ctx context.Context, u Utterance) error {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return nil
	}
	if o.sess.State == StateEnded {
		return &InvariantError{State: o.sess.State, Op: "utterance", Detail: "session is immutable"}
	}
	u.Speaker = SpeakerCaller
	u.IsFinal = true
	if u.Timestamp.IsZero() {
		u.Timestamp = o.now()
	}
	o.sess.Log = append(o.sess.Log, u)
	o.sess.LastSpeech = u.Timestamp
	o.sess.Exchanges++
	o.emitter.UtteranceFinal(u.Text, u.Confidence)
	logger.InfoContext(ctx, "caller said", "text", u.Text, "confidence", u.Confidence, "state", o.sess.State)

	switch o.sess.State {
	case StateEnding:
		return nil
	case StateGreeting:
		// The caller spoke first: the opening line rides on the first turn.
		o.openingPending = true
		if err := o.enter(ctx, StateListenTurn, "caller_spoke_first"); err != nil {
			return err
		}
		o.beginListen(o.now(), true)
	}

	o.extract(ctx, u)

	switch o.sess.State {
	case StateListenTurn:
		o.turnFinal = true
	case StateSpeakingTurn:
		o.carryFinal = true
	}
	return o.evaluate(ctx)
}

// extract merges newly stated values. A value replaces an earlier one only
// with at least the same confidence.
func (o *Orchestrator) extract(ctx context.Context, u Utterance) {
	ex, outcome := o.reasoner.Extract(o.callCtx, reasoning.ExtractRequest{
		Topic:     o.catalogue.Topic,
		Fields:    o.specs,
		Collected: o.sess.Collected(),
		Recent:    o.recent(),
		Latest:    u.Text,
	})
	if !outcome.OK() {
		logger.WarnContext(ctx, "extraction skipped", "reason", outcome.Fallback, "error", outcome.Err)
		return
	}

	for _, slot := range o.catalogue.Slots {
		v, ok := ex.Values[slot.Name]
		if !ok || v.Empty() {
			continue
		}
		cur, had := o.sess.Fields[slot.Name]
		if had && (v.Confidence < cur.Confidence || v.Display() == cur.Display()) {
			continue
		}
		f := CollectedField{
			Value:      v.Text,
			List:       slices.Clone(v.List),
			Confidence: v.Confidence,
			Source:     u.Text,
			At:         o.now(),
		}
		o.sess.Fields[slot.Name] = f
		completion := o.Completion()
		o.emitter.FieldCollected(slot.Name, f.Display(), f.Confidence, completion)
		logger.InfoContext(ctx, "field collected", "field", slot.Name, "value", f.Display(),
			"completion", fmt.Sprintf("%.0f%%", completion*100))
	}
}

func (o *Orchestrator) recent() []reasoning.Turn {
	log := o.sess.Log
	if len(log) > recentTurns {
		log = log[len(log)-recentTurns:]
	}
	turns := make([]reasoning.Turn, len(log))
	for i, u := range log {
		turns[i] = reasoning.Turn{Speaker: string(u.Speaker), Text: u.Text}
	}
	return turns
}

func (o *Orchestrator) onActivity(ctx context.Context) error {
	a, ok := o.in.Activity.Latest()
	if !ok {
		return nil
	}
	o.sess.Silence = a.Silence

	if o.sess.State == StateSpeakingTurn && o.pending != nil {
		switch o.barge.Observe(a.SpeechRun) {
		case audio.BargeInInterrupt:
			logger.InfoContext(ctx, "caller barged in, stopping agent audio", "speech", a.SpeechRun)
			o.in.Interrupt()
		case audio.BargeInPending:
			logger.DebugContext(ctx, "caller barge-in deferred to end of agent turn", "speech", a.SpeechRun)
		}
		return nil
	}
	return o.evaluate(ctx)
}

func (o *Orchestrator) onTick(ctx context.Context) error {
	now := o.now()
	if o.pending != nil && now.Sub(o.speakStart) >= o.cfg.SpeakTimeout {
		req := *o.pending
		logger.WarnContext(ctx, "agent utterance timed out, stopping playback",
			"kind", req.Kind, "timeout", o.cfg.SpeakTimeout)
		o.in.Interrupt()
		return o.finishSpeech(ctx, SpeakResult{ID: req.ID, Interrupted: true, Err: ErrSpeakTimeout})
	}

	switch o.sess.State {
	case StateGreeting:
		if now.Sub(o.greetStart) >= o.cfg.GreetingGrace {
			return o.greet(ctx)
		}
	case StateListenTurn:
		return o.evaluate(ctx)
	}
	return nil
}

// evaluate applies the turn-yield rules in ListenTurn.
func (o *Orchestrator) evaluate(ctx context.Context) error {
	if o.sess.State != StateListenTurn {
		return nil
	}
	now := o.now()
	inTurn := now.Sub(o.listenStart)
	silent := o.sess.Silence >= o.cfg.SilenceThreshold
	cooled := now.Sub(o.cooldownFrom) >= o.cfg.PostSpeechCooldown

	var reason string
	switch {
	case o.turnFinal && silent && cooled:
		reason = "silence"
	case o.sess.Degraded && silent && inTurn >= o.cfg.DegradedTurnInterval:
		reason = "timed_turn"
	case inTurn >= o.cfg.MaxTurnDuration:
		reason = "max_turn"
	default:
		return nil
	}
	return o.yield(ctx, reason)
}

// yield hands the turn to the agent: end the call, or think and speak.
func (o *Orchestrator) yield(ctx context.Context, reason string) error {
	if o.sess.AgentSpeaking || o.pending != nil {
		return &InvariantError{State: o.sess.State, Op: "yield", Detail: "agent audio is still playing"}
	}
	o.turnFinal = false

	if o.cfg.Completion.Complete(o.catalogue, o.sess.Fields) {
		return o.beginEnding(ctx, EndComplete)
	}
	if o.sess.Exchanges >= o.cfg.MaxExchanges {
		return o.beginEnding(ctx, EndExchangeLimit)
	}

	decided := o.now()
	if err := o.enter(ctx, StateThinking, reason); err != nil {
		return err
	}
	text, kind := o.nextUtterance(ctx)
	if text == "" {
		return o.beginEnding(ctx, EndQuestionsExhausted)
	}
	if o.openingPending {
		text = o.cfg.OpeningLine + " " + text
		o.openingPending = false
	}

	if err := o.enter(ctx, StateSpeakingTurn, string(kind)); err != nil {
		return err
	}
	o.request(ctx, text, kind, decided)
	return nil
}

// nextUtterance asks the reasoner for the next line, falling back to the
// highest-priority unasked canned question.
func (o *Orchestrator) nextUtterance(ctx context.Context) (string, UtteranceKind) {
	collected := o.sess.Collected()
	text, outcome := o.reasoner.Respond(o.callCtx, reasoning.RespondRequest{
		Topic:     o.catalogue.Topic,
		Fields:    o.specs,
		Collected: collected,
		Recent:    o.recent(),
		Asked:     slices.Clone(o.sess.Asked),
	})

	switch {
	case !outcome.OK():
		logger.WarnContext(ctx, "using canned question", "reason", outcome.Fallback, "error", outcome.Err)
		if outcome.Err == nil {
			o.emitter.ReasoningFallback("respond", string(outcome.Fallback), nil)
		}
	case o.isDuplicate(text):
		logger.WarnContext(ctx, "response repeats an earlier question, using canned question", "text", text)
		o.emitter.ReasoningFallback("respond", "duplicate", nil)
	default:
		return text, KindQuestion
	}

	slot, ok := reasoning.NextQuestion(o.specs, collected, o.sess.Asked)
	if !ok {
		return "", ""
	}
	return slot.Question, KindFallback
}

// isDuplicate compares normalised text against everything already said.
func (o *Orchestrator) isDuplicate(text string) bool {
	n := reasoning.Normalize(text)
	if n == "" || o.sess.askedSet[n] {
		return true
	}
	for _, asked := range o.sess.Asked {
		a := reasoning.Normalize(asked)
		if strings.Contains(a, n) && len(strings.Fields(n)) >= minContainedWords {
			return true
		}
		if strings.Contains(n, a) && len(strings.Fields(a)) >= minContainedWords {
			return true
		}
	}
	return false
}

func (o *Orchestrator) greet(ctx context.Context) error {
	text := o.cfg.OpeningLine
	if slot, ok := reasoning.NextQuestion(o.specs, o.sess.Collected(), o.sess.Asked); ok {
		text += " " + slot.Question
	}
	if err := o.enter(ctx, StateSpeakingTurn, "greeting_grace"); err != nil {
		return err
	}
	o.request(ctx, text, KindOpening, o.now())
	return nil
}

func (o *Orchestrator) beginEnding(ctx context.Context, reason EndReason) error {
	o.sess.EndReason = reason
	if err := o.enter(ctx, StateEnding, string(reason)); err != nil {
		return err
	}
	logger.InfoContext(ctx, "ending call", "reason", reason, "exchanges", o.sess.Exchanges,
		"completion", fmt.Sprintf("%.0f%%", o.Completion()*100))
	o.request(ctx, o.cfg.ClosingLine, KindClosing, o.now())
	return nil
}

// request hands text to the speaker task. The session stays marked as
// speaking until the matching SpeakResult or SpeakTimeout.
func (o *Orchestrator) request(ctx context.Context, text string, kind UtteranceKind, decided time.Time) {
	o.nextID++
	req := SpeakRequest{ID: o.nextID, Text: text, Kind: kind, Decided: decided}
	o.pending = &req
	o.speakStart = o.now()
	o.sess.AgentSpeaking = true
	o.barge.SetAgentSpeaking(true)
	logger.InfoContext(ctx, "agent says", "text", text, "kind", kind)

	select {
	case o.in.Speak <- req:
	case <-o.callCtx.Done():
	}
}

func (o *Orchestrator) onPlayed(ctx context.Context, res SpeakResult) error {
	if o.pending == nil || res.ID != o.pending.ID {
		logger.DebugContext(ctx, "ignoring stale playback result", "id", res.ID)
		return nil
	}
	return o.finishSpeech(ctx, res)
}

func (o *Orchestrator) finishSpeech(ctx context.Context, res SpeakResult) error {
	req := *o.pending
	o.pending = nil
	o.sess.AgentSpeaking = false
	bargePending := o.barge.SetAgentSpeaking(false)
	now := o.now()

	if res.Err != nil {
		logger.WarnContext(ctx, "agent utterance failed", "kind", req.Kind, "frames", res.Frames, "error", res.Err)
	}
	if res.Frames > 0 {
		o.sess.Log = append(o.sess.Log, Utterance{
			Speaker:     SpeakerAgent,
			Text:        req.Text,
			IsFinal:     true,
			Timestamp:   o.speakStart,
			Kind:        req.Kind,
			Interrupted: res.Interrupted,
		})
		o.sess.recordAsked(req.Text)
	}
	o.emitter.AgentUtterance(events.AgentUtteranceData{
		Text:        req.Text,
		Kind:        string(req.Kind),
		StartedAt:   o.speakStart,
		Duration:    res.Audio,
		Frames:      res.Frames,
		Interrupted: res.Interrupted,
		Latency:     res.Latency,
	})

	if o.sess.State == StateEnding {
		return o.finish(ctx)
	}

	reason := "playback_done"
	switch {
	case res.Err != nil && res.Frames == 0:
		reason = "synthesis_failed"
	case res.Interrupted:
		reason = "interrupted"
	}
	if err := o.enter(ctx, StateListenTurn, reason); err != nil {
		return err
	}
	o.beginListen(now, bargePending || res.Interrupted)
	return o.evaluate(ctx)
}

// beginListen starts a caller turn. Finals heard while the agent spoke
// count toward it. skipCooldown gives the floor straight back after a
// barge-in.
func (o *Orchestrator) beginListen(now time.Time, skipCooldown bool) {
	o.listenStart = now
	o.cooldownFrom = now
	if skipCooldown {
		o.cooldownFrom = time.Time{}
	}
	o.turnFinal = o.turnFinal || o.carryFinal
	o.carryFinal = false
}

// abort ends the call without a closing line: the transport is gone or the
// service is shutting down.
func (o *Orchestrator) abort(ctx context.Context, reason EndReason) error {
	if o.sess.EndReason == "" {
		o.sess.EndReason = reason
	}
	if o.pending != nil {
		o.in.Interrupt()
		o.pending = nil
		o.sess.AgentSpeaking = false
	}
	if o.sess.State != StateEnding {
		if err := o.enter(ctx, StateEnding, string(reason)); err != nil {
			return err
		}
	}
	logger.InfoContext(ctx, "call aborted", "reason", reason)
	return o.finish(ctx)
}

func (o *Orchestrator) finish(ctx context.Context) error {
	if err := o.enter(ctx, StateEnded, string(o.sess.EndReason)); err != nil {
		return err
	}
	o.sess.EndTime = o.now()
	o.emitCallEnded(ctx)
	return nil
}

func (o *Orchestrator) emitCallEnded(ctx context.Context) {
	completion := o.Completion()
	d := o.sess.EndTime.Sub(o.sess.StartTime)
	o.emitter.CallEnded(events.CallEndedData{
		Reason:     string(o.sess.EndReason),
		Duration:   d,
		Exchanges:  o.sess.Exchanges,
		Completion: completion,
		Fields:     o.sess.Collected(),
	})
	logger.InfoContext(ctx, "call ended", "reason", o.sess.EndReason, "duration", d,
		"exchanges", o.sess.Exchanges, "completion", fmt.Sprintf("%.0f%%", completion*100))
}

// fail terminates the session after an invariant violation. Nothing is
// spoken and the session is not mutated further.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	logger.ErrorContext(ctx, "dialogue invariant violated, ending call", "error", err, "state", o.sess.State)
	if o.pending != nil {
		o.in.Interrupt()
		o.pending = nil
	}
	o.sess.AgentSpeaking = false
	if o.sess.State == StateEnded {
		return err
	}
	from := o.sess.State
	o.sess.EndReason = EndInvariantViolation
	o.m.terminate(string(EndInvariantViolation))
	o.sess.EndTime = o.now()
	o.emitter.StateChanged(string(from), string(StateEnded), string(EndInvariantViolation))
	o.emitCallEnded(ctx)
	if !errors.Is(err, ErrInvariant) {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	return err
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
