package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/internal/relay"
)

// wsWriteTimeout bounds a single outbound WebSocket write.
const wsWriteTimeout = 10 * time.Second

// clientMessage is the JSON schema for text messages from WebSocket clients.
// Binary messages carry raw PCM16 audio and need no envelope.
type clientMessage struct {
	// Type is "input_text" or "response.create".
	Type string `json:"type"`

	// Text is the user message for input_text.
	Text string `json:"text"`
}

// handleSpeechWS upgrades the connection and runs a relay session over it.
// The session ends when the client disconnects, the upstream errors or goes
// quiet past the wait bound, or the server shuts down.
func (s *Server) handleSpeechWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, wsAcceptOptions(s.cfg().Server.AllowedOrigins))
	if err != nil {
		// Accept has already written the handshake failure response.
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}

	trans := newWSTransport(conn)
	sess := relay.NewSession(s.provider, trans, s.sessionParams(r), relay.WithMetrics(s.metrics))

	if err := sess.Run(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("websocket relay session failed",
			"err", err,
			"kind", relay.Kind(err),
		)
	}
}

// wsAcceptOptions derives the handshake origin policy from the configured
// allow-list. An empty list admits any origin, matching the CORS layer's
// wildcard default. Configured entries are full origins ("https://host"), so
// they are reduced to the host patterns websocket.Accept matches against.
func wsAcceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	if len(allowedOrigins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// wsTransport adapts a coder/websocket connection to the relay Transport.
// Binary client messages become audio frames; text messages are decoded as
// [clientMessage] control frames. Outbound audio is sent as binary messages
// and events as JSON text messages.
type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

var _ relay.Transport = (*wsTransport)(nil)

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// ReadFrame implements [relay.Transport]. A normal client close surfaces as
// io.EOF; every other read failure is returned as is.
func (t *wsTransport) ReadFrame(ctx context.Context) (relay.Frame, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return relay.Frame{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return relay.Frame{}, io.EOF
		}
		return relay.Frame{}, err
	}

	if typ == websocket.MessageBinary {
		return relay.Frame{Audio: data}, nil
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// Report and skip: one garbled control message should not kill a
		// live audio session.
		_ = t.WriteEvent(relay.ClientEvent{
			Type:  "error",
			Error: "unparseable text message",
			Kind:  relay.Kind(relay.ErrBadFrame),
		})
		return relay.Frame{}, nil
	}

	switch msg.Type {
	case "input_text":
		return relay.Frame{Text: msg.Text}, nil
	case "response.create":
		return relay.Frame{Respond: true}, nil
	default:
		slog.Debug("ignoring unknown client message type", "type", msg.Type)
		return relay.Frame{}, nil
	}
}

// WriteAudio implements [relay.Transport]. Each WAV buffer is one binary
// message.
func (t *wsTransport) WriteAudio(wav []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageBinary, wav)
}

// WriteEvent implements [relay.Transport]. Events travel as JSON text
// messages.
func (t *wsTransport) WriteEvent(ev relay.ClientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements [relay.Transport]. Safe to call multiple times.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
