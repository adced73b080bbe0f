package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/logger"
)

// Bridge defaults.
const (
	DefaultFrameBytes      = 160
	DefaultWriteWait       = 5 * time.Second
	DefaultMaxMessageSize  = 64 * 1024
	DefaultBufferSize      = 4096
	DefaultCloseGrace      = time.Second
	frameLogInterval int64 = 50
)

// Options configures a Bridge.
type Options struct {
	// CheckOrigin validates the upgrade request. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	ReadBufferSize  int
	WriteBufferSize int

	// WriteWait bounds each outbound write (default: 5s).
	WriteWait time.Duration

	// MaxMessageSize is the inbound read limit (default: 64KB).
	MaxMessageSize int64

	// FrameBytes is the expected mu-law payload size of one media frame
	// (default: 160, 20ms at 8 kHz). Payloads that are not a whole number
	// of frames are dropped.
	FrameBytes int

	// OnMark is called when the far end reports that a mark was played.
	OnMark func(name string)

	// OnDropped is called for every dropped inbound message.
	OnDropped func(err error)

	// Logger receives bridge logs. Defaults to the package logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = DefaultBufferSize
	}
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = DefaultBufferSize
	}
	if o.WriteWait == 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.FrameBytes == 0 {
		o.FrameBytes = DefaultFrameBytes
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	if o.Logger == nil {
		o.Logger = logger.DefaultLogger.With("component", "bridge")
	}
}

// Frame is one decoded inbound media frame.
type Frame struct {
	// PCM is the decoded linear audio.
	PCM []int16
	// Payload is the raw mu-law payload.
	Payload []byte
	// Timestamp is the stream position reported by the transport.
	Timestamp time.Duration
	// Seq is the transport chunk number.
	Seq int64
}

// Stats counts bridge traffic.
type Stats struct {
	Received int64
	Dropped  int64
	Sent     int64
	Marks    int64
}

// Bridge terminates one Media Streams WebSocket. ReceiveFrame is called
// from a single goroutine; the send methods are safe for concurrent use.
type Bridge struct {
	conn *websocket.Conn
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	info    StartInfo
	started bool

	writeMu sync.Mutex

	closeOnce sync.Once
	connOnce  sync.Once
	closed    chan struct{}

	received atomic.Int64
	dropped  atomic.Int64
	sent     atomic.Int64
	marks    atomic.Int64
}

// Accept upgrades an HTTP request to a media stream.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Bridge, error) {
	opts.defaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewBridge(conn, opts), nil
}

// NewBridge wraps an established WebSocket connection.
func NewBridge(conn *websocket.Conn, opts Options) *Bridge {
	opts.defaults()
	conn.SetReadLimit(opts.MaxMessageSize)
	return &Bridge{
		conn:   conn,
		opts:   opts,
		log:    opts.Logger,
		closed: make(chan struct{}),
	}
}

// Handshake consumes the connected event and returns the start event's
// correlation data. Media arriving before start is an invalid frame.
func (b *Bridge) Handshake(ctx context.Context) (StartInfo, error) {
	for {
		msg, err := b.next(ctx)
		if err != nil {
			return StartInfo{}, err
		}

		switch msg.Event {
		case EventConnected:
			b.log.DebugContext(ctx, "media stream connected", "protocol", msg.Protocol, "version", msg.Version)
		case EventStart:
			if msg.Start == nil {
				return StartInfo{}, &FrameError{Event: EventStart, Reason: "missing start payload"}
			}
			info := msg.Start.info(msg.StreamSID)
			if enc := info.MediaFormat.Encoding; enc != "" && enc != EncodingMulaw {
				return StartInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, enc)
			}
			b.mu.Lock()
			b.info = info
			b.started = true
			b.log = b.log.With("call_sid", info.CallSID, "stream_sid", info.StreamSID)
			b.mu.Unlock()

			b.log.InfoContext(ctx, "media stream started",
				"encoding", info.MediaFormat.Encoding,
				"sample_rate", info.MediaFormat.SampleRate,
				"channels", info.MediaFormat.Channels,
				"tracks", info.Tracks)
			return info, nil
		case EventMedia:
			return StartInfo{}, &FrameError{Event: EventMedia, Reason: "media before start"}
		case EventStop:
			b.markClosed()
			return StartInfo{}, ErrClosed
		default:
			b.log.DebugContext(ctx, "ignoring message before start", "event", msg.Event)
		}
	}
}

// ReceiveFrame blocks until the next inbound audio frame. Malformed
// messages are dropped and counted. When the stream ends ReceiveFrame
// returns ErrClosed, and keeps returning it on every later call.
func (b *Bridge) ReceiveFrame(ctx context.Context) (Frame, error) {
	for {
		msg, err := b.next(ctx)
		if err != nil {
			return Frame{}, err
		}

		switch msg.Event {
		case EventMedia:
			frame, ok, err := b.decodeMedia(msg)
			if err != nil {
				b.drop(err)
				continue
			}
			if !ok {
				continue
			}
			if n := b.received.Add(1); n%frameLogInterval == 0 {
				b.log.DebugContext(ctx, "media frames received", "count", n, "seq", frame.Seq)
			}
			return frame, nil
		case EventMark:
			b.marks.Add(1)
			if msg.Mark != nil && b.opts.OnMark != nil {
				b.opts.OnMark(msg.Mark.Name)
			}
		case EventStop:
			b.markClosed()
			return Frame{}, ErrClosed
		case EventStart, EventConnected:
			b.log.DebugContext(ctx, "ignoring repeated handshake message", "event", msg.Event)
		default:
			b.log.DebugContext(ctx, "ignoring message", "event", msg.Event)
		}
	}
}

// next reads the next decodable message. Read errors close the bridge;
// undecodable messages are dropped.
func (b *Bridge) next(ctx context.Context) (*message, error) {
	for {
		if b.IsClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// gorilla reads are not cancelable; expiring the deadline unblocks them.
		stop := context.AfterFunc(ctx, func() {
			_ = b.conn.SetReadDeadline(time.Now())
		})
		msgType, data, err := b.conn.ReadMessage()
		stop()

		if err != nil {
			b.markClosed()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.WarnContext(ctx, "media stream read failed", "error", err)
			}
			return nil, ErrClosed
		}
		if msgType != websocket.TextMessage {
			b.drop(&FrameError{Event: "binary", Reason: "unexpected message type"})
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.drop(&FrameError{Event: "unknown", Reason: "malformed json", Err: err})
			continue
		}
		return &msg, nil
	}
}

// decodeMedia returns ok=false for outbound-track echoes.
func (b *Bridge) decodeMedia(msg *message) (Frame, bool, error) {
	if !b.isStarted() {
		return Frame{}, false, &FrameError{Event: EventMedia, Reason: "media before start"}
	}
	if msg.Media == nil {
		return Frame{}, false, &FrameError{Event: EventMedia, Reason: "missing media payload"}
	}
	if msg.Media.Track == TrackOutbound {
		return Frame{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return Frame{}, false, &FrameError{Event: EventMedia, Reason: "bad base64", Err: err}
	}
	if len(payload) == 0 || len(payload)%b.opts.FrameBytes != 0 {
		return Frame{}, false, &FrameError{
			Event:  EventMedia,
			Reason: fmt.Sprintf("payload of %d bytes is not a whole number of frames", len(payload)),
		}
	}
	return Frame{
		PCM:       audio.DecodeMulaw(payload),
		Payload:   payload,
		Timestamp: time.Duration(parseUint(msg.Media.Timestamp)) * time.Millisecond,
		Seq:       parseUint(msg.Media.Chunk),
	}, true, nil
}

func (b *Bridge) drop(err error) {
	b.dropped.Add(1)
	if b.opts.OnDropped != nil {
		b.opts.OnDropped(err)
	}
}

// SendFrame writes one outbound mu-law frame.
func (b *Bridge) SendFrame(payload []byte) error {
	sid, err := b.streamSID()
	if err != nil {
		return err
	}
	err = b.writeJSON(outboundMedia{
		Event:     EventMedia,
		StreamSID: sid,
		Media:     outboundAudio{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
	if err == nil {
		b.sent.Add(1)
	}
	return err
}

// SendMark asks the far end to report back when playback reaches this point.
func (b *Bridge) SendMark(name string) error {
	sid, err := b.streamSID()
	if err != nil {
		return err
	}
	return b.writeJSON(outboundMark{Event: EventMark, StreamSID: sid, Mark: markPayload{Name: name}})
}

// Clear discards audio buffered at the far end.
func (b *Bridge) Clear() error {
	sid, err := b.streamSID()
	if err != nil {
		return err
	}
	return b.writeJSON(outboundClear{Event: EventClear, StreamSID: sid})
}

func (b *Bridge) writeJSON(v any) error {
	if b.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.conn.SetWriteDeadline(time.Now().Add(b.opts.WriteWait)); err != nil {
		b.markClosed()
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.markClosed()
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

func (b *Bridge) streamSID() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return "", ErrNotStarted
	}
	return b.info.StreamSID, nil
}

func (b *Bridge) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Info returns the start event data. It is zero before Handshake succeeds.
func (b *Bridge) Info() StartInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Stats returns a snapshot of the traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received: b.received.Load(),
		Dropped:  b.dropped.Load(),
		Sent:     b.sent.Load(),
		Marks:    b.marks.Load(),
	}
}

// Closed returns a channel that is closed exactly once, when the stream ends.
func (b *Bridge) Closed() <-chan struct{} {
	return b.closed
}

// IsClosed reports whether the stream has ended.
func (b *Bridge) IsClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *Bridge) markClosed() {
	b.closeOnce.Do(func() {
		close(b.closed)
		s := b.Stats()
		b.log.Info("media stream closed",
			"frames_received", s.Received,
			"frames_dropped", s.Dropped,
			"frames_sent", s.Sent,
			"marks", s.Marks)
	})
}

// Close sends a close frame and releases the connection. It is idempotent.
func (b *Bridge) Close() error {
	var err error
	b.connOnce.Do(func() {
		b.markClosed()
		b.writeMu.Lock()
		_ = b.conn.SetWriteDeadline(time.Now().Add(DefaultCloseGrace))
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		err = b.conn.Close()
	})
	return err
}
