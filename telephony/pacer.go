package telephony

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/callkit/logger"
)

// Pacer defaults.
const (
	DefaultFrameInterval = 20 * time.Millisecond
	DefaultPacerQueue    = 50
)

// Sender is the outbound half of a Bridge.
type Sender interface {
	SendFrame(payload []byte) error
	SendMark(name string) error
	Clear() error
}

// PacerConfig configures a Pacer.
type PacerConfig struct {
	// FrameInterval is the minimum spacing between frames (default: 20ms).
	FrameInterval time.Duration
	// QueueSize bounds the frames buffered ahead of the clock (default: 50).
	QueueSize int
}

// Playback reports how an utterance's audio left the pacer.
type Playback struct {
	Name        string
	Frames      int
	Interrupted bool
}

type pacerItem struct {
	frame []byte
	mark  *pendingMark
}

type pendingMark struct {
	name string
	done chan Playback
}

// Pacer sends queued frames to a Sender no faster than one per
// FrameInterval. Producers block on the bounded queue instead of bursting.
// Marks delimit utterances: each mark resolves once every frame queued
// before it has been sent, or as interrupted when the queue is flushed.
type Pacer struct {
	sender   Sender
	interval time.Duration
	queue    chan pacerItem

	mu      sync.Mutex
	flushes int

	done     chan struct{}
	doneOnce sync.Once
	sent     atomic.Int64
	flushed  atomic.Int64
}

// NewPacer creates a Pacer. Call Run to start sending.
func NewPacer(sender Sender, cfg PacerConfig) *Pacer {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultPacerQueue
	}
	return &Pacer{
		sender:   sender,
		interval: cfg.FrameInterval,
		queue:    make(chan pacerItem, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// WriteFrame queues one frame. It satisfies tts.FrameSink.
func (p *Pacer) WriteFrame(ctx context.Context, frame []byte) error {
	return p.enqueue(ctx, pacerItem{frame: frame})
}

// Mark queues an utterance boundary. The returned channel receives one
// Playback; callers should also watch Done in case the pacer exits first.
func (p *Pacer) Mark(ctx context.Context, name string) (<-chan Playback, error) {
	m := &pendingMark{name: name, done: make(chan Playback, 1)}
	if err := p.enqueue(ctx, pacerItem{mark: m}); err != nil {
		return nil, err
	}
	return m.done, nil
}

func (p *Pacer) enqueue(ctx context.Context, item pacerItem) error {
	select {
	case <-p.done:
		return ErrPacerStopped
	default:
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPacerStopped
	}
}

// Flush drops every queued frame, resolves pending marks as interrupted
// and clears audio already buffered at the far end. It returns the number
// of frames dropped.
func (p *Pacer) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++

	dropped := 0
	for {
		select {
		case item := <-p.queue:
			if item.mark != nil {
				item.mark.done <- Playback{Name: item.mark.name, Interrupted: true}
				continue
			}
			dropped++
		default:
			p.flushed.Add(int64(dropped))
			if err := p.sender.Clear(); err != nil {
				logger.Debug("pacer clear failed", "error", err)
			}
			return dropped
		}
	}
}

// Run sends frames until ctx ends or the sender fails. Marks still queued
// on exit resolve as interrupted.
func (p *Pacer) Run(ctx context.Context) error {
	defer p.stop()

	var (
		next       time.Time
		frames     int
		flushEpoch = p.epoch()
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var item pacerItem
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item = <-p.queue:
		}

		if e := p.epoch(); e != flushEpoch {
			flushEpoch = e
			frames = 0
		}

		if item.mark != nil {
			if err := p.sender.SendMark(item.mark.name); err != nil {
				item.mark.done <- Playback{Name: item.mark.name, Frames: frames, Interrupted: true}
				return err
			}
			item.mark.done <- Playback{Name: item.mark.name, Frames: frames}
			frames = 0
			continue
		}

		if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		// A flush may have landed while waiting for the clock. Sending
		// under mu keeps every frame ahead of the flush's Clear.
		p.mu.Lock()
		if p.flushes != flushEpoch {
			flushEpoch = p.flushes
			frames = 0
			p.mu.Unlock()
			p.flushed.Add(1)
			continue
		}
		err := p.sender.SendFrame(item.frame)
		p.mu.Unlock()
		if err != nil {
			return err
		}
		p.sent.Add(1)
		frames++

		now := time.Now()
		if now.Sub(next) > p.interval {
			// Idle gap: restart the clock rather than catching up.
			next = now
		}
		next = next.Add(p.interval)
	}
}

func (p *Pacer) epoch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func (p *Pacer) stop() {
	p.doneOnce.Do(func() {
		close(p.done)
		for {
			select {
			case item := <-p.queue:
				if item.mark != nil {
					item.mark.done <- Playback{Name: item.mark.name, Interrupted: true}
				}
			default:
				return
			}
		}
	})
}

// Done is closed when Run returns.
func (p *Pacer) Done() <-chan struct{} {
	return p.done
}

// Sent returns the number of frames handed to the sender.
func (p *Pacer) Sent() int64 {
	return p.sent.Load()
}

// Flushed returns the number of frames dropped by Flush.
func (p *Pacer) Flushed() int64 {
	return p.flushed.Load()
}
