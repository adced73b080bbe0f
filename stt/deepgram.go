package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/internal/streaming"
	"github.com/AltairaLabs/callkit/logger"
)

const (
	deepgramProvider     = "deepgram"
	deepgramListenURL    = "wss://api.deepgram.com/v1/listen"
	deepgramDefaultModel = "nova-2"

	// DefaultDeepgramKeepAlive is how often KeepAlive is sent while the stream is open.
	// Deepgram closes idle streams after roughly 10 s without audio.
	DefaultDeepgramKeepAlive = 5 * time.Second

	// deepgramCloseWait bounds how long Close waits for the final results after CloseStream.
	deepgramCloseWait = 2 * time.Second

	deepgramMessageResults = "Results"
)

var (
	deepgramKeepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	deepgramCloseStreamMsg = map[string]string{"type": "CloseStream"}
)

// Deepgram is a streaming Recognizer backed by Deepgram live transcription.
type Deepgram struct {
	apiKey    string
	baseURL   string
	model     string
	keepAlive time.Duration
}

// DeepgramOption configures the Deepgram recognizer.
type DeepgramOption func(*Deepgram)

// WithDeepgramURL overrides the listen endpoint (for testing or proxies).
func WithDeepgramURL(u string) DeepgramOption {
	return func(d *Deepgram) {
		d.baseURL = u
	}
}

// WithDeepgramModel sets the recognition model.
func WithDeepgramModel(model string) DeepgramOption {
	return func(d *Deepgram) {
		d.model = model
	}
}

// WithDeepgramKeepAlive sets the keep-alive interval.
func WithDeepgramKeepAlive(interval time.Duration) DeepgramOption {
	return func(d *Deepgram) {
		d.keepAlive = interval
	}
}

// NewDeepgram creates a Deepgram recognizer.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{
		apiKey:    apiKey,
		baseURL:   deepgramListenURL,
		model:     deepgramDefaultModel,
		keepAlive: DefaultDeepgramKeepAlive,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the provider identifier.
func (d *Deepgram) Name() string {
	return deepgramProvider
}

// Start opens a live transcription stream. A single connection attempt is
// made; the Adapter owns retry policy.
func (d *Deepgram) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if d.apiKey == "" {
		return nil, NewTranscriptionError(deepgramProvider, "auth", "api key is required", nil, false)
	}

	endpoint, err := d.listenURL(cfg)
	if err != nil {
		return nil, NewTranscriptionError(deepgramProvider, "config", "invalid listen url", err, false)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn := streaming.NewConn(&streaming.ConnConfig{
		URL:        endpoint,
		Headers:    headers,
		MaxRetries: 1,
		Logger:     logger.DefaultLogger.With("component", "stt", "provider", deepgramProvider),
	})
	if err := conn.ConnectWithRetry(ctx); err != nil {
		retryable := true
		var dialErr *streaming.DialError
		if errors.As(err, &dialErr) {
			retryable = dialErr.Retryable()
		}
		return nil, NewTranscriptionError(deepgramProvider, "connect", "failed to open stream", err, retryable)
	}

	session, err := streaming.NewSession(ctx, streaming.SessionConfig[Event]{
		Conn:      conn,
		OnMessage: parseDeepgramMessage,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if d.keepAlive > 0 {
		conn.StartKeepAlive(ctx, d.keepAlive, deepgramKeepAliveMsg)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = EncodingMulaw
	}
	return &deepgramStream{session: session, encoding: encoding}, nil
}

func (d *Deepgram) listenURL(cfg StreamConfig) (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", err
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = EncodingMulaw
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	model := cfg.Model
	if model == "" {
		model = d.model
	}

	q := u.Query()
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", strconv.FormatBool(cfg.Interim))
	q.Set("punctuate", "true")
	q.Set("model", model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramStream struct {
	session  *streaming.Session[Event]
	encoding string

	closeOnce sync.Once
}

func (s *deepgramStream) Send(w *audio.Window) error {
	if w == nil || len(w.PCM) == 0 {
		return nil
	}
	var payload []byte
	if s.encoding == EncodingLinear16 {
		payload = audio.PCM16ToBytes(w.PCM)
	} else {
		payload = w.Mulaw()
	}
	err := s.session.SendBinary(payload)
	if errors.Is(err, streaming.ErrSessionClosed) {
		return ErrStreamClosed
	}
	if err != nil {
		return NewTranscriptionError(deepgramProvider, "send", "failed to send audio", err, true)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan Event {
	return s.session.Response()
}

func (s *deepgramStream) Err() error {
	if err := s.session.Err(); err != nil {
		return NewTranscriptionError(deepgramProvider, "stream", "stream ended", err, true)
	}
	return nil
}

// Close asks Deepgram to flush the remaining audio, waits briefly for the
// final results and then closes the connection.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if sendErr := s.session.SendJSON(deepgramCloseStreamMsg); sendErr == nil {
			select {
			case <-s.session.Done():
			case <-time.After(deepgramCloseWait):
			}
		}
		err = s.session.Close()
	})
	return err
}

type deepgramResults struct {
	Type        string  `json:"type"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramMessage turns one server message into at most one Event.
// Metadata, UtteranceEnd and SpeechStarted messages carry no text and are skipped,
// as are malformed messages.
func parseDeepgramMessage(data []byte) ([]Event, error) {
	var msg deepgramResults
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("deepgram: skipping malformed message", "error", err, "bytes", len(data))
		return nil, nil
	}
	if msg.Type != deepgramMessageResults || len(msg.Channel.Alternatives) == 0 {
		return nil, nil
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil, nil
	}
	return []Event{{
		Text:        alt.Transcript,
		Confidence:  alt.Confidence,
		IsFinal:     msg.IsFinal,
		SpeechFinal: msg.SpeechFinal,
		Start:       secondsToDuration(msg.Start),
		Duration:    secondsToDuration(msg.Duration),
	}}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// String reports the endpoint without credentials.
func (d *Deepgram) String() string {
	return fmt.Sprintf("deepgram(%s, model=%s)", d.baseURL, d.model)
}
