package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverThatSends creates a test server that sends the given messages then waits.
func serverThatSends(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep the connection alive until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// serverThatCloses creates a test server that closes immediately after upgrade.
func serverThatCloses(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
		conn.Close()
	}))
}

type transcript struct {
	Text    string   `json:"text"`
	Parts   []string `json:"parts"`
	IsFinal bool     `json:"is_final"`
}

// textHandler parses a JSON message into one value per part, or one value for text.
func textHandler(data []byte) ([]string, error) {
	var msg transcript
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("bad json: %w", err)
	}
	if len(msg.Parts) > 0 {
		return msg.Parts, nil
	}
	if msg.Text == "" {
		return nil, nil
	}
	return []string{msg.Text}, nil
}

func connect(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	conn := NewConn(&ConnConfig{URL: wsURL(srv)})
	require.NoError(t, conn.ConnectWithRetry(context.Background()))
	return conn
}

func TestSession_ReceivesMessages(t *testing.T) {
	srv := serverThatSends(t, []string{`{"text":"hello"}`, `{"text":"world"}`})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := NewSession(ctx, SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	var received []string
	for text := range session.Response() {
		received = append(received, text)
		if len(received) >= 2 {
			cancel()
		}
	}

	assert.Equal(t, []string{"hello", "world"}, received)
}

func TestSession_SendJSON(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.SendJSON(map[string]string{"text": "echo test"}))

	select {
	case text := <-session.Response():
		assert.Equal(t, "echo test", text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}
}

func TestSession_SendBinary(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.SendBinary([]byte(`{"text":"binary"}`)))

	select {
	case text := <-session.Response():
		assert.Equal(t, "binary", text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}
}

func TestSession_MultipleValuesFromOneMessage(t *testing.T) {
	srv := serverThatSends(t, []string{`{"parts":["a","b","c"]}`})
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case text := <-session.Response():
			got = append(got, text)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.ErrorIs(t, session.SendBinary([]byte("x")), ErrSessionClosed)
	assert.ErrorIs(t, session.SendJSON(map[string]string{}), ErrSessionClosed)

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after Close")
	}
	assert.NoError(t, session.Err())
}

func TestSession_ErrorOnFatalMessage(t *testing.T) {
	srv := serverThatSends(t, []string{`not valid json`})
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	for range session.Response() {
		// drain
	}

	require.Error(t, session.Err())
	assert.Contains(t, session.Err().Error(), "bad json")
}

func TestSession_RemoteCloseEndsNormally(t *testing.T) {
	srv := serverThatCloses(t)
	defer srv.Close()

	session, err := NewSession(context.Background(), SessionConfig[string]{
		Conn:      connect(t, srv),
		OnMessage: textHandler,
	})
	require.NoError(t, err)
	defer session.Close()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after remote close")
	}
	assert.NoError(t, session.Err())
}

func TestSession_RequiredConfig(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig[string]{OnMessage: textHandler})
	require.Error(t, err)

	_, err = NewSession(context.Background(), SessionConfig[string]{Conn: NewConn(&ConnConfig{})})
	require.Error(t, err)
}
