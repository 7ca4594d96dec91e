// Package turn implements the turn-taking controller: the per-call state machine
// that sequences transcription, response and synthesis, enforces a single active
// turn, and handles barge-in by truncating replies to what was actually heard.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/queue"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

// errPlaybackFailed stands in for an egress failure reported without a cause.
var errPlaybackFailed = errors.New("egress playback failed")

type FailurePolicy string

const (
	// FailureApologize records the failed turn with a system note and speaks
	// the apology line.
	FailureApologize FailurePolicy = "apology"
	// FailureDrop forgets the failed turn entirely.
	FailureDrop FailurePolicy = "drop"
)

type Config struct {
	// WordsPerMinute times words of chunks whose audio has no duration.
	WordsPerMinute float64
	FailurePolicy  FailurePolicy
	ApologyText    string
	// Greeting is spoken as soon as Run starts. Empty disables it.
	Greeting string
	// CancelGrace bounds how long a cancelled worker may take to exit before it
	// is reported as stuck.
	CancelGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		WordsPerMinute: 150,
		FailurePolicy:  FailureApologize,
		ApologyText:    "Sorry, I ran into a problem. Could you say that again?",
		CancelGrace:    500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.WordsPerMinute <= 0 {
		return fmt.Errorf("words per minute must be positive")
	}
	switch c.FailurePolicy {
	case FailureApologize, FailureDrop:
	default:
		return fmt.Errorf("unknown failure policy %q", c.FailurePolicy)
	}
	if c.FailurePolicy == FailureApologize && strings.TrimSpace(c.ApologyText) == "" {
		return fmt.Errorf("apology policy needs apology text")
	}
	if c.CancelGrace <= 0 {
		return fmt.Errorf("cancel grace must be positive")
	}
	return nil
}

// Sink is the egress side the controller drives. egress.Player implements it.
type Sink interface {
	Enqueue(c egress.Chunk) bool
	Stop(ctx context.Context, turnID uint64) error
}

// Hooks observe the controller. They run on the controller goroutine and must
// not block, except OnStuck which runs on its own goroutine.
type Hooks struct {
	OnTransition func(t conversation.Turn, from conversation.Status)
	OnBargeIn    func(t conversation.Turn, elapsed time.Duration)
	OnCommit     func(t conversation.Turn)
	OnStageError func(stage string, kind stages.Kind, err error)
	OnLatency    func(stage string, d time.Duration)
	OnStuck      func(turnID uint64)
}

type Deps struct {
	Transcriber stages.Transcriber
	Generator   stages.Generator
	Synthesizer stages.Synthesizer
	Sink        Sink
	State       *conversation.State
	Clock       clock.Clock
	Log         zerolog.Logger
	Hooks       Hooks
}

// Controller owns the conversation state of one call. All decisions happen on
// the Run goroutine; inputs arrive through a single ordered event queue.
type Controller struct {
	cfg         Config
	transcriber stages.Transcriber
	generator   stages.Generator
	synthesizer stages.Synthesizer
	sink        Sink
	state       *conversation.State
	clock       clock.Clock
	log         zerolog.Logger
	hooks       Hooks
	events      *queue.Queue[event]

	// Owned by the Run goroutine.
	lastID  uint64
	active  *activeTurn
	pending []pendingWork
}

type activeTurn struct {
	turn     conversation.Turn
	cancel   context.CancelFunc
	done     chan struct{}
	timeline conversation.Timeline

	sentences  []string
	playing    bool
	firstStart time.Time
	enqueued   int
	delivered  int
	synthDone  bool
	total      int
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transcriber == nil || deps.Generator == nil || deps.Synthesizer == nil {
		return nil, errors.New("turn controller needs transcriber, generator and synthesizer")
	}
	if deps.Sink == nil {
		return nil, errors.New("turn controller needs an egress sink")
	}
	if deps.State == nil {
		deps.State = conversation.NewState()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	return &Controller{
		cfg:         cfg,
		transcriber: deps.Transcriber,
		generator:   deps.Generator,
		synthesizer: deps.Synthesizer,
		sink:        deps.Sink,
		state:       deps.State,
		clock:       deps.Clock,
		log:         deps.Log.With().Str("component", "turn").Logger(),
		hooks:       deps.Hooks,
		events:      queue.New[event](),
	}, nil
}

func (c *Controller) State() *conversation.State { return c.state }

// SpeechStarted tells the controller the user began speaking.
func (c *Controller) SpeechStarted(at time.Time) { c.post(speechStarted{at: at}) }

// UtteranceReady hands over a completed user utterance.
func (c *Controller) UtteranceReady(u utterance.Utterance) { c.post(utteranceReady{u: u}) }

// Say queues an assistant line that is spoken without a user utterance.
func (c *Controller) Say(text string) { c.post(say{text: text}) }

// HandleReport receives egress playback reports.
func (c *Controller) HandleReport(r egress.Report) { c.post(playback{report: r}) }

// Close stops accepting input; Run returns once queued events are handled.
func (c *Controller) Close() { c.events.Close() }

func (c *Controller) post(ev event) { c.events.Push(ev) }

func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()
	if strings.TrimSpace(c.cfg.Greeting) != "" {
		c.pending = append(c.pending, pendingWork{kind: conversation.KindGreeting, text: c.cfg.Greeting})
		c.startNext(ctx)
	}
	for {
		ev, err := c.events.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		c.handle(ctx, ev)
		if c.active == nil {
			c.startNext(ctx)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case speechStarted:
		c.onSpeechStarted(ctx, e.at)
	case utteranceReady:
		u := e.u
		c.pending = append(c.pending, pendingWork{kind: conversation.KindUser, utterance: &u})
	case say:
		if strings.TrimSpace(e.text) != "" {
			c.pending = append(c.pending, pendingWork{kind: conversation.KindGreeting, text: e.text})
		}
	case transcribed:
		if a := c.current(e.turnID); a != nil {
			a.turn.UserText = e.text
			c.latency("transcription", a.turn.CreatedAt)
			c.transition(a, conversation.StatusPendingReply)
		}
	case sentenceReady:
		if a := c.current(e.turnID); a != nil {
			a.sentences = append(a.sentences, e.text)
			if a.turn.Status == conversation.StatusPendingReply {
				c.latency("response", a.turn.CreatedAt)
				c.transition(a, conversation.StatusPendingSynthesis)
			}
		}
	case audioReady:
		if a := c.current(e.turnID); a != nil {
			c.onAudio(a, e)
		}
	case synthesisDone:
		if a := c.current(e.turnID); a != nil {
			a.synthDone = true
			a.total = e.chunks
			c.maybeComplete(a)
		}
	case workerFailed:
		if a := c.current(e.turnID); a != nil {
			c.onFailure(ctx, a, e.stage, e.err)
		}
	case playback:
		if a := c.current(e.report.TurnID); a != nil {
			c.onPlayback(ctx, a, e.report)
		}
	}
}

func (c *Controller) current(turnID uint64) *activeTurn {
	if c.active == nil || c.active.turn.ID != turnID {
		return nil
	}
	return c.active
}

func (c *Controller) startNext(ctx context.Context) {
	for c.active == nil && len(c.pending) > 0 && ctx.Err() == nil {
		w := c.pending[0]
		c.pending = c.pending[1:]
		c.begin(ctx, w.kind, w.utterance, w.text)
	}
}

func (c *Controller) begin(ctx context.Context, kind conversation.Kind, u *utterance.Utterance, reply string) {
	c.lastID++
	now := c.clock.Now()
	status := conversation.StatusPendingTranscription
	if u == nil {
		status = conversation.StatusPendingSynthesis
	}
	turnCtx, cancel := context.WithCancel(ctx)
	a := &activeTurn{
		turn: conversation.Turn{
			ID:        c.lastID,
			Kind:      kind,
			Status:    status,
			CreatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active = a
	c.log.Debug().Uint64("turn_id", a.turn.ID).Str("kind", string(kind)).Msg("turn started")
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(a.turn.Clone(), "")
	}

	go c.work(turnCtx, job{
		turnID:    a.turn.ID,
		utterance: u,
		reply:     reply,
		history:   c.state.Snapshot(),
	}, a.done)
}

func (c *Controller) transition(a *activeTurn, to conversation.Status) bool {
	from := a.turn.Status
	if !a.turn.Transition(to, c.clock.Now()) {
		return false
	}
	c.log.Debug().Uint64("turn_id", a.turn.ID).Str("from", string(from)).Str("to", string(to)).Msg("turn transition")
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(a.turn.Clone(), from)
	}
	return true
}

func (c *Controller) onAudio(a *activeTurn, e audioReady) {
	if a.turn.Status == conversation.StatusPendingSynthesis {
		c.latency("first_audio", a.turn.CreatedAt)
		c.transition(a, conversation.StatusSpeaking)
	}
	a.turn.Chunks = append(a.turn.Chunks, conversation.ChunkInfo{
		Seq:      e.seq,
		Text:     e.chunk.Text,
		Duration: e.chunk.Duration(),
	})
	if c.sink.Enqueue(egress.Chunk{TurnID: a.turn.ID, Seq: e.seq, Audio: e.chunk}) {
		a.enqueued++
	}
}

func (c *Controller) onPlayback(ctx context.Context, a *activeTurn, r egress.Report) {
	if r.Seq < 0 || r.Seq >= len(a.turn.Chunks) {
		return
	}
	chunk := &a.turn.Chunks[r.Seq]
	switch r.Kind {
	case egress.ReportStarted:
		if !a.playing {
			a.playing = true
			a.firstStart = r.At
		}
		a.timeline.AddChunk(chunk.Text, r.At.Sub(a.firstStart), chunk.Duration, conversation.PerWord(c.cfg.WordsPerMinute))
	case egress.ReportDelivered:
		if !chunk.Delivered {
			chunk.Delivered = true
			a.delivered++
		}
		c.maybeComplete(a)
	case egress.ReportFailed:
		err := r.Err
		if err == nil {
			err = errPlaybackFailed
		}
		c.onFailure(ctx, a, "egress", err)
	}
}

// maybeComplete finishes the turn once synthesis is over and every chunk handed
// to egress has been confirmed as played.
func (c *Controller) maybeComplete(a *activeTurn) {
	if !a.synthDone || a.delivered < a.enqueued {
		return
	}
	if a.turn.Status == conversation.StatusPendingSynthesis {
		// Every sentence synthesized to silence.
		c.transition(a, conversation.StatusSpeaking)
	}
	reply := strings.Join(a.sentences, " ")
	a.turn.ReplyText = reply
	a.turn.WordsTotal = len(strings.Fields(reply))
	a.turn.WordsSpoken = a.turn.WordsTotal
	c.transition(a, conversation.StatusCompleted)
	c.finish(a, true)
}

// onSpeechStarted barges in on a reply. at is when the user started talking; the
// words heard are counted up to that instant, not up to when the event is handled.
func (c *Controller) onSpeechStarted(ctx context.Context, at time.Time) {
	a := c.active
	if a == nil {
		return
	}
	switch a.turn.Status {
	case conversation.StatusPendingSynthesis, conversation.StatusSpeaking:
	default:
		return
	}

	a.cancel()
	if err := c.sink.Stop(ctx, a.turn.ID); err != nil {
		c.log.Warn().Err(err).Uint64("turn_id", a.turn.ID).Msg("egress stop failed")
	}

	if at.IsZero() {
		at = c.clock.Now()
	}
	elapsed := c.heard(a, at)
	a.turn.ReplyText = a.timeline.SpokenText(elapsed)
	a.turn.WordsSpoken = a.timeline.SpokenCount(elapsed)
	a.turn.WordsTotal = len(strings.Fields(strings.Join(a.sentences, " ")))
	c.transition(a, conversation.StatusInterrupted)

	c.log.Info().
		Uint64("turn_id", a.turn.ID).
		Dur("elapsed", elapsed).
		Int("words_spoken", a.turn.WordsSpoken).
		Int("words_total", a.turn.WordsTotal).
		Msg("barge-in")
	if c.hooks.OnBargeIn != nil {
		c.hooks.OnBargeIn(a.turn.Clone(), elapsed)
	}
	c.finish(a, true)
}

// heard is how long the reply had been audible at the given instant.
func (c *Controller) heard(a *activeTurn, at time.Time) time.Duration {
	if !a.playing || !at.After(a.firstStart) {
		return 0
	}
	return at.Sub(a.firstStart)
}

func (c *Controller) onFailure(ctx context.Context, a *activeTurn, stage string, err error) {
	kind := stages.Classify(err)
	if kind == stages.KindCancelled {
		return
	}
	if c.hooks.OnStageError != nil {
		c.hooks.OnStageError(stage, kind, err)
	}

	a.cancel()
	if a.enqueued > 0 {
		if stopErr := c.sink.Stop(ctx, a.turn.ID); stopErr != nil {
			c.log.Warn().Err(stopErr).Uint64("turn_id", a.turn.ID).Msg("egress stop failed")
		}
	}
	elapsed := c.heard(a, c.clock.Now())
	a.turn.ReplyText = a.timeline.SpokenText(elapsed)
	a.turn.WordsSpoken = a.timeline.SpokenCount(elapsed)
	a.turn.WordsTotal = len(strings.Fields(strings.Join(a.sentences, " ")))
	c.transition(a, conversation.StatusFailed)

	silent := a.turn.WordsSpoken == 0
	if kind == stages.KindMalformed && silent {
		c.log.Debug().Err(err).Uint64("turn_id", a.turn.ID).Str("stage", stage).Msg("turn discarded")
		c.finish(a, false)
		return
	}

	c.log.Warn().Err(err).Uint64("turn_id", a.turn.ID).Str("stage", stage).Str("kind", kind.String()).Msg("turn failed")
	if c.cfg.FailurePolicy == FailureDrop || a.turn.Kind == conversation.KindApology {
		c.finish(a, false)
		return
	}
	a.turn.Note = fmt.Sprintf("The assistant could not reply because the %s service failed (%s).", stage, kind)
	c.finish(a, true)
	c.pending = append([]pendingWork{{kind: conversation.KindApology, text: c.cfg.ApologyText}}, c.pending...)
}

// finish ends the active turn, optionally committing it to the conversation.
func (c *Controller) finish(a *activeTurn, commit bool) {
	c.active = nil
	a.cancel()
	c.watchExit(a)
	if !commit {
		return
	}
	if err := c.state.Append(a.turn); err != nil {
		c.log.Error().Err(err).Uint64("turn_id", a.turn.ID).Msg("append turn")
		return
	}
	if c.hooks.OnCommit != nil {
		c.hooks.OnCommit(a.turn.Clone())
	}
}

// watchExit reports a worker that ignores cancellation for longer than the grace
// period. Its output is already being discarded by turn id.
func (c *Controller) watchExit(a *activeTurn) {
	select {
	case <-a.done:
		return
	default:
	}
	id := a.turn.ID
	grace := c.clock.After(c.cfg.CancelGrace)
	go func() {
		select {
		case <-a.done:
		case <-grace:
			c.log.Warn().Uint64("turn_id", id).Dur("grace", c.cfg.CancelGrace).Msg("cancelled turn worker still running")
			if c.hooks.OnStuck != nil {
				c.hooks.OnStuck(id)
			}
		}
	}()
}

func (c *Controller) latency(stage string, since time.Time) {
	if c.hooks.OnLatency != nil {
		c.hooks.OnLatency(stage, c.clock.Now().Sub(since))
	}
}

// shutdown ends an in-flight turn when the call goes away, keeping what was heard.
func (c *Controller) shutdown() {
	a := c.active
	if a == nil {
		return
	}
	a.cancel()
	elapsed := c.heard(a, c.clock.Now())
	a.turn.ReplyText = a.timeline.SpokenText(elapsed)
	a.turn.WordsSpoken = a.timeline.SpokenCount(elapsed)
	c.transition(a, conversation.StatusInterrupted)
	c.finish(a, a.turn.UserText != "" || a.turn.WordsSpoken > 0)
}
