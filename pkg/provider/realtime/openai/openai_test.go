package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/echorelay/pkg/provider/realtime"
	"github.com/MrWong99/echorelay/pkg/provider/realtime/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// waitEvent reads events until one of the wanted type arrives.
func waitEvent(t *testing.T, handle realtime.SessionHandle, want realtime.EventType) realtime.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-handle.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", want)
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_EmptyAPIKey_FailsBeforeDial(t *testing.T) {
	t.Parallel()

	dialed := make(chan struct{}, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		dialed <- struct{}{}
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("", openai.WithBaseURL(wsURL(srv)))
	if _, err := p.Connect(context.Background(), realtime.Options{}); err == nil {
		t.Fatal("Connect with empty api key should fail")
	}

	select {
	case <-dialed:
		t.Fatal("Connect dialed upstream despite missing api key")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnect_SendsAuthHeaderAndModel(t *testing.T) {
	t.Parallel()

	type got struct{ auth, model string }
	received := make(chan got, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		received <- got{r.Header.Get("Authorization"), r.URL.Query().Get("model")}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("my-secret", openai.WithModel("gpt-4o-mini-realtime"), openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case g := <-received:
		if g.auth != "Bearer my-secret" {
			t.Errorf("Authorization = %q; want Bearer my-secret", g.auth)
		}
		if g.model != "gpt-4o-mini-realtime" {
			t.Errorf("model = %q; want gpt-4o-mini-realtime", g.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice              string `json:"voice"`
			Instructions       string `json:"instructions"`
			InputAudioFormat   string `json:"input_audio_format"`
			OutputAudioFormat  string `json:"output_audio_format"`
			InputTranscription *struct {
				Model    string `json:"model"`
				Language string `json:"language"`
			} `json:"input_audio_transcription"`
		} `json:"session"`
	}

	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	opts := realtime.Options{
		Voice:              "alloy",
		Instructions:       "You are a terse assistant.",
		Language:           "en",
		TranscriptionModel: "whisper-1",
		InputSampleRate:    24000,
	}
	handle, err := p.Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", msg.Session.Voice)
		}
		if msg.Session.Instructions != "You are a terse assistant." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
		if msg.Session.InputTranscription == nil {
			t.Fatal("input_audio_transcription missing")
		}
		if msg.Session.InputTranscription.Model != "whisper-1" {
			t.Errorf("transcription model = %q; want whisper-1", msg.Session.InputTranscription.Model)
		}
		if msg.Session.InputTranscription.Language != "en" {
			t.Errorf("transcription language = %q; want en", msg.Session.InputTranscription.Language)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

// ── SendAudio / SendText / CreateResponse ─────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	audioMsg := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update

		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantPCM := []byte{0x10, 0x20, 0x30, 0x40}
	if err := handle.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = handle.Close()

	if err := handle.SendAudio([]byte{1, 2}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

func TestSendText_SendsConversationItem(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	items := make(chan itemMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg itemMsg
		readJSON(t, conn, &msg)
		items <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.SendText("read this back"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case msg := <-items:
		if msg.Type != "conversation.item.create" {
			t.Errorf("type = %q; want conversation.item.create", msg.Type)
		}
		if msg.Item.Role != "user" {
			t.Errorf("role = %q; want user", msg.Item.Role)
		}
		if len(msg.Item.Content) == 0 || msg.Item.Content[0].Text != "read this back" {
			t.Errorf("content = %+v; want text %q", msg.Item.Content, "read this back")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for conversation item")
	}
}

func TestCreateResponse_CommitsThenCreates(t *testing.T) {
	t.Parallel()

	types := make(chan string, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		for range 2 {
			var msg struct {
				Type string `json:"type"`
			}
			readJSON(t, conn, &msg)
			types <- msg.Type
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.CreateResponse(); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	want := []string{"input_audio_buffer.commit", "response.create"}
	for _, w := range want {
		select {
		case got := <-types:
			if got != w {
				t.Errorf("message type = %q; want %q", got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %q", w)
		}
	}
}

// ── Event mapping ─────────────────────────────────────────────────────────────

func TestEvents_AccumulatesDeltasIntoSpeechCompleted(t *testing.T) {
	t.Parallel()

	chunk1 := []byte{0x01, 0x02}
	chunk2 := []byte{0x03, 0x04}

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "response.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(chunk1)})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(chunk2)})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hello "})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "world!"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	progress := waitEvent(t, handle, realtime.EventSpeechInProgress)
	if progress.Role != realtime.RoleAssistant {
		t.Errorf("in-progress role = %q; want assistant", progress.Role)
	}

	done := waitEvent(t, handle, realtime.EventSpeechCompleted)
	if done.Role != realtime.RoleAssistant || done.Status != realtime.StatusCompleted {
		t.Errorf("completed role/status = %q/%q; want assistant/completed", done.Role, done.Status)
	}
	if string(done.Audio) != string(append(chunk1, chunk2...)) {
		t.Errorf("audio = %v; want %v", done.Audio, append(chunk1, chunk2...))
	}
	if done.Transcript != "Hello world!" {
		t.Errorf("transcript = %q; want %q", done.Transcript, "Hello world!")
	}
}

func TestEvents_EachResponseGetsOwnCompletedEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		for i := range 2 {
			writeJSON(t, conn, map[string]any{"type": "response.created"})
			writeJSON(t, conn, map[string]any{
				"type":  "response.audio.delta",
				"delta": base64.StdEncoding.EncodeToString([]byte{byte(i), 0x00}),
			})
			writeJSON(t, conn, map[string]any{"type": "response.done"})
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	first := waitEvent(t, handle, realtime.EventSpeechCompleted)
	second := waitEvent(t, handle, realtime.EventSpeechCompleted)

	if string(first.Audio) != string([]byte{0x00, 0x00}) {
		t.Errorf("first audio = %v", first.Audio)
	}
	if string(second.Audio) != string([]byte{0x01, 0x00}) {
		t.Errorf("second audio = %v; accumulator not reset between responses", second.Audio)
	}
}

func TestEvents_UserTranscription(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "turn on the lights",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	evt := waitEvent(t, handle, realtime.EventConversationUpdated)
	if evt.Role != realtime.RoleUser {
		t.Errorf("role = %q; want user", evt.Role)
	}
	if evt.Transcript != "turn on the lights" {
		t.Errorf("transcript = %q", evt.Transcript)
	}
}

func TestEvents_ErrorEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "audio_unintelligible",
				"message": "Could not understand audio.",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	evt := waitEvent(t, handle, realtime.EventError)
	if evt.Err == nil {
		t.Fatal("error event carries nil Err")
	}
	if !strings.Contains(evt.Err.Error(), "Could not understand audio") {
		t.Errorf("err = %v; want vendor message", evt.Err)
	}
	if handle.Err() == nil {
		t.Error("Err() should be non-nil after an error event")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = handle.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-handle.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for Events channel to close")
		}
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Connect(ctx, realtime.Options{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}
