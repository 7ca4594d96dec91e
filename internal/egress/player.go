// Package egress plays synthesized reply audio to a device or telephony socket and
// reports when each chunk starts and finishes playing.
package egress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/queue"
	"github.com/ent0n29/aspen/internal/stages"
)

// Output is the physical or network sink. Write may return before the audio has
// been heard; the Player paces delivery by each chunk's duration.
type Output interface {
	Write(ctx context.Context, samples []int16, sampleRate int) error
	// Clear discards audio already handed to the sink but not yet heard.
	Clear(ctx context.Context) error
}

type Chunk struct {
	TurnID uint64
	Seq    int
	Audio  stages.AudioChunk
}

type ReportKind int

const (
	ReportStarted ReportKind = iota
	ReportDelivered
	ReportFailed
)

func (k ReportKind) String() string {
	switch k {
	case ReportStarted:
		return "started"
	case ReportDelivered:
		return "delivered"
	case ReportFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Report struct {
	TurnID uint64
	Seq    int
	Kind   ReportKind
	At     time.Time
	Err    error
}

// Player plays chunks strictly in enqueue order. Stop halts one turn's audio
// without touching chunks queued for later turns.
type Player struct {
	out    Output
	clock  clock.Clock
	log    zerolog.Logger
	report func(Report)
	queue  *queue.Queue[Chunk]

	mu          sync.Mutex
	stopped     uint64
	playingTurn uint64
	cancelPlay  context.CancelFunc
}

func NewPlayer(out Output, clk clock.Clock, log zerolog.Logger, report func(Report)) *Player {
	if clk == nil {
		clk = clock.System{}
	}
	if report == nil {
		report = func(Report) {}
	}
	return &Player{
		out:    out,
		clock:  clk,
		log:    log.With().Str("component", "egress").Logger(),
		report: report,
		queue:  queue.New[Chunk](),
	}
}

// Enqueue schedules c for playback. Chunks of a stopped turn are refused.
func (p *Player) Enqueue(c Chunk) bool {
	p.mu.Lock()
	stopped := c.TurnID <= p.stopped
	p.mu.Unlock()
	if stopped {
		return false
	}
	return p.queue.Push(c)
}

// Stop halts playback of turnID (and any older turn), drops its unplayed chunks
// and asks the sink to flush buffered audio.
func (p *Player) Stop(ctx context.Context, turnID uint64) error {
	p.mu.Lock()
	if turnID > p.stopped {
		p.stopped = turnID
	}
	if p.cancelPlay != nil && p.playingTurn <= turnID {
		p.cancelPlay()
	}
	p.mu.Unlock()

	dropped := p.queue.RemoveIf(func(c Chunk) bool { return c.TurnID <= turnID })
	p.log.Debug().Uint64("turn_id", turnID).Int("dropped", dropped).Msg("playback stopped")
	return p.out.Clear(ctx)
}

// Pending reports how many chunks wait to be played.
func (p *Player) Pending() int {
	return p.queue.Len()
}

// Close stops accepting chunks; Run returns once the queue is drained.
func (p *Player) Close() {
	p.queue.Close()
}

func (p *Player) Run(ctx context.Context) error {
	for {
		c, err := p.queue.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		p.play(ctx, c)
	}
}

func (p *Player) play(ctx context.Context, c Chunk) {
	p.mu.Lock()
	if c.TurnID <= p.stopped {
		p.mu.Unlock()
		return
	}
	playCtx, cancel := context.WithCancel(ctx)
	p.playingTurn = c.TurnID
	p.cancelPlay = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancelPlay = nil
		p.mu.Unlock()
		cancel()
	}()

	start := p.clock.Now()
	p.report(Report{TurnID: c.TurnID, Seq: c.Seq, Kind: ReportStarted, At: start})

	if len(c.Audio.Samples) > 0 {
		if err := p.out.Write(playCtx, c.Audio.Samples, c.Audio.SampleRate); err != nil {
			if playCtx.Err() != nil {
				return
			}
			p.log.Warn().Err(err).Uint64("turn_id", c.TurnID).Int("seq", c.Seq).Msg("egress write failed")
			p.report(Report{TurnID: c.TurnID, Seq: c.Seq, Kind: ReportFailed, At: p.clock.Now(), Err: err})
			return
		}
	}

	// Hold until the chunk has had time to play out at the far end.
	if remaining := c.Audio.Duration() - p.clock.Now().Sub(start); remaining > 0 {
		select {
		case <-playCtx.Done():
			return
		case <-p.clock.After(remaining):
		}
	}
	if playCtx.Err() != nil {
		return
	}
	p.report(Report{TurnID: c.TurnID, Seq: c.Seq, Kind: ReportDelivered, At: p.clock.Now()})
}
