package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/callkit/audio"
)

// newBridgePair starts a stream endpoint and dials it. The returned client
// plays the telephony provider.
func newBridgePair(t *testing.T, opts Options) (*Bridge, *websocket.Conn) {
	t.Helper()

	bridges := make(chan *Bridge, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := Accept(w, r, opts)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		bridges <- b
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case b := <-bridges:
		t.Cleanup(func() { _ = b.Close() })
		return b, client
	case <-time.After(2 * time.Second):
		t.Fatal("bridge was not accepted")
		return nil, nil
	}
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func connectedMsg() map[string]any {
	return map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"}
}

func startMsg(encoding string) map[string]any {
	return map[string]any{
		"event":          "start",
		"sequenceNumber": "1",
		"streamSid":      "MZ123",
		"start": map[string]any{
			"streamSid":        "MZ123",
			"accountSid":       "AC123",
			"callSid":          "CA123",
			"tracks":           []string{"inbound"},
			"customParameters": map[string]string{"call_id": "call-1"},
			"mediaFormat": map[string]any{
				"encoding":   encoding,
				"sampleRate": 8000,
				"channels":   1,
			},
		},
	}
}

func mediaMsg(payload []byte, chunk, timestamp string) map[string]any {
	return map[string]any{
		"event":     "media",
		"streamSid": "MZ123",
		"media": map[string]any{
			"track":     "inbound",
			"chunk":     chunk,
			"timestamp": timestamp,
			"payload":   base64.StdEncoding.EncodeToString(payload),
		},
	}
}

func framePayload(level int16) []byte {
	pcm := make([]int16, DefaultFrameBytes)
	for i := range pcm {
		pcm[i] = level
	}
	return audio.EncodeMulaw(pcm)
}

func handshake(t *testing.T, b *Bridge, c *websocket.Conn) StartInfo {
	t.Helper()
	send(t, c, connectedMsg())
	send(t, c, startMsg(EncodingMulaw))
	info, err := b.Handshake(context.Background())
	require.NoError(t, err)
	return info
}

func TestBridge_Handshake(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	info := handshake(t, b, c)

	assert.Equal(t, "MZ123", info.StreamSID)
	assert.Equal(t, "CA123", info.CallSID)
	assert.Equal(t, "AC123", info.AccountSID)
	assert.Equal(t, EncodingMulaw, info.MediaFormat.Encoding)
	assert.Equal(t, 8000, info.MediaFormat.SampleRate)
	assert.Equal(t, map[string]string{"call_id": "call-1"}, info.CustomParams)
	assert.Equal(t, info, b.Info())
}

func TestBridge_HandshakeRejectsOtherEncodings(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	send(t, c, startMsg("audio/x-l16"))

	_, err := b.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBridge_MediaBeforeStart(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	send(t, c, connectedMsg())
	send(t, c, mediaMsg(framePayload(1000), "1", "0"))

	_, err := b.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestBridge_StopDuringHandshake(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	send(t, c, map[string]any{"event": "stop"})

	_, err := b.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBridge_ReceiveFrame(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	payload := framePayload(1000)
	send(t, c, mediaMsg(payload, "7", "140"))

	frame, err := b.ReceiveFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, frame.Payload)
	assert.Len(t, frame.PCM, DefaultFrameBytes)
	assert.Equal(t, int64(7), frame.Seq)
	assert.Equal(t, 140*time.Millisecond, frame.Timestamp)
	assert.InDelta(t, 1000, frame.PCM[0], float64(audio.MulawQuantizationBound(1000)))
	assert.Equal(t, int64(1), b.Stats().Received)
}

func TestBridge_DropsInvalidFrames(t *testing.T) {
	var dropped []error
	b, c := newBridgePair(t, Options{OnDropped: func(err error) { dropped = append(dropped, err) }})
	handshake(t, b, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, c, map[string]any{"event": "media", "media": map[string]any{"payload": "!!!"}})
	send(t, c, mediaMsg(make([]byte, 100), "2", "20"))
	send(t, c, mediaMsg(nil, "3", "40"))
	send(t, c, map[string]any{"event": "media"})
	send(t, c, mediaMsg(framePayload(500), "4", "60"))

	frame, err := b.ReceiveFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), frame.Seq)

	assert.Equal(t, int64(5), b.Stats().Dropped)
	require.Len(t, dropped, 5)
	for _, err := range dropped {
		assert.ErrorIs(t, err, ErrInvalidFrame)
	}
}

func TestBridge_IgnoresOutboundTrack(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	echo := mediaMsg(framePayload(100), "1", "0")
	echo["media"].(map[string]any)["track"] = "outbound"
	send(t, c, echo)
	send(t, c, mediaMsg(framePayload(100), "2", "20"))

	frame, err := b.ReceiveFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), frame.Seq)
	assert.Zero(t, b.Stats().Dropped)
}

func TestBridge_StopClosesExactlyOnce(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)
	send(t, c, map[string]any{"event": "stop", "stop": map[string]any{"callSid": "CA123"}})

	_, err := b.ReceiveFrame(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-b.Closed():
	default:
		t.Fatal("Closed() should be closed after stop")
	}

	for i := 0; i < 3; i++ {
		_, err := b.ReceiveFrame(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.ErrorIs(t, b.SendFrame(framePayload(0)), ErrClosed)
}

func TestBridge_PeerDisconnect(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)
	require.NoError(t, c.Close())

	_, err := b.ReceiveFrame(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, b.IsClosed())
}

func TestBridge_ContextCancelUnblocksReceive(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReceiveFrame(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveFrame did not return after cancel")
	}
	assert.True(t, b.IsClosed())
}

func TestBridge_MarkCallback(t *testing.T) {
	marks := make(chan string, 1)
	b, c := newBridgePair(t, Options{OnMark: func(name string) { marks <- name }})
	handshake(t, b, c)

	send(t, c, map[string]any{"event": "mark", "streamSid": "MZ123", "mark": map[string]any{"name": "turn-1"}})
	send(t, c, mediaMsg(framePayload(100), "1", "0"))

	_, err := b.ReceiveFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "turn-1", <-marks)
	assert.Equal(t, int64(1), b.Stats().Marks)
}

func TestBridge_SendBeforeStart(t *testing.T) {
	b, _ := newBridgePair(t, Options{})
	assert.ErrorIs(t, b.SendFrame(framePayload(0)), ErrNotStarted)
	assert.ErrorIs(t, b.SendMark("x"), ErrNotStarted)
	assert.ErrorIs(t, b.Clear(), ErrNotStarted)
}

func readOutbound(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBridge_SendMessages(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	payload := framePayload(2000)
	require.NoError(t, b.SendFrame(payload))
	require.NoError(t, b.SendMark("turn-1"))
	require.NoError(t, b.Clear())

	media := readOutbound(t, c)
	assert.Equal(t, "media", media["event"])
	assert.Equal(t, "MZ123", media["streamSid"])
	encoded := media["media"].(map[string]any)["payload"].(string)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	mark := readOutbound(t, c)
	assert.Equal(t, "mark", mark["event"])
	assert.Equal(t, "turn-1", mark["mark"].(map[string]any)["name"])

	cleared := readOutbound(t, c)
	assert.Equal(t, "clear", cleared["event"])
	assert.Equal(t, "MZ123", cleared["streamSid"])

	assert.Equal(t, int64(1), b.Stats().Sent)
}

func TestBridge_ConcurrentSends(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := b.SendFrame(framePayload(100)); err != nil {
					t.Errorf("SendFrame() error = %v", err)
					return
				}
			}
		}()
	}

	received := 0
	for received < writers*perWriter {
		msg := readOutbound(t, c)
		require.Equal(t, "media", msg["event"])
		received++
	}
	wg.Wait()
	assert.Equal(t, int64(writers*perWriter), b.Stats().Sent)
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	b, c := newBridgePair(t, Options{})
	handshake(t, b, c)

	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
	assert.True(t, b.IsClosed())

	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, err = b.ReceiveFrame(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}
