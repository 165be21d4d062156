package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	orchestration "github.com/koscakluka/ema-stage/core"
	"github.com/koscakluka/ema-stage/core/agents"
	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/voice"
)

func TestRenderTranscriptWrapsAndAppendsStreaming(t *testing.T) {
	history := []conversations.Message{
		{Role: conversations.RoleUser, Content: "hello there"},
		{Role: conversations.RoleAssistant, Content: "one two three four five six"},
	}

	out := renderTranscript(newTheme(), history, "still typing", 20)

	for _, want := range []string{"user", "hello there", "assistant", "still typing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in transcript, got %q", want, out)
		}
	}
	if strings.Contains(out, "one two three four five six") {
		t.Fatalf("expected long content to be wrapped, got %q", out)
	}
	if strings.Index(out, "still typing") < strings.Index(out, "five") {
		t.Fatalf("expected streaming reply to come last, got %q", out)
	}
}

func TestLevelBar(t *testing.T) {
	cases := map[int]string{
		0:   ".....",
		40:  "||...",
		100: "|||||",
		250: "|||||",
		-5:  ".....",
	}
	for level, want := range cases {
		if got := levelBar(level); got != want {
			t.Fatalf("levelBar(%d) = %q, want %q", level, got, want)
		}
	}
}

func TestDescribeAction(t *testing.T) {
	if got := describeAction("<|motion:Idle|>"); got != "motion Idle" {
		t.Fatalf("unexpected motion description %q", got)
	}
	if got := describeAction("<|delay:0.5|>"); got != "delay 500ms" {
		t.Fatalf("unexpected delay description %q", got)
	}
	if got := describeAction("<|wave|>"); got != "wave" {
		t.Fatalf("expected unknown directive to be shown as written, got %q", got)
	}
}

func TestSubmitRejectsUnknownCommand(t *testing.T) {
	m := &model{}
	if cmd := m.submit("/dance"); cmd != nil {
		t.Fatalf("expected no command for an unknown slash command")
	}
	if m.err == nil || !strings.Contains(m.err.Error(), "/dance") {
		t.Fatalf("expected unknown command error, got %v", m.err)
	}
}

func TestCollectEngineReportsKeepsFailedChecks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent/engines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"engines":[{"id":"a","label":"Agent A"},{"id":"b","label":"Agent B"}]}`))
	})
	mux.HandleFunc("GET /api/agent/engines/default", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"engine":{"id":"b","label":"Agent B"}}`))
	})
	mux.HandleFunc("GET /api/agent/engines/a/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"latency_ms":12}`))
	})
	mux.HandleFunc("GET /api/agent/engines/b/health", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	reports, err := collectEngineReports(context.Background(), agents.NewClient(server.URL), true)
	if err != nil {
		t.Fatalf("expected reports, got %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}
	if reports[0].err != nil || !reports[0].health.OK {
		t.Fatalf("expected engine a to be healthy, got %+v", reports[0])
	}
	if reports[1].err == nil || !reports[1].isDefault {
		t.Fatalf("expected engine b to be the failing default, got %+v", reports[1])
	}

	out := renderEngineReports(reports, true)
	for _, want := range []string{"a", "Agent A", "ok 12ms", "(default)", "error:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

type unavailableMic struct{}

func (unavailableMic) Tap(context.Context, func([]byte)) (func() error, error) {
	return nil, audio.ErrDeviceUnavailable
}

func (unavailableMic) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func TestStartKeepsChatWhenMicrophoneFails(t *testing.T) {
	a := &app{
		orchestrator: orchestration.NewOrchestrator(),
		pipeline:     voice.NewPipeline(unavailableMic{}),
	}
	defer a.Close()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("expected chat to start without voice, got %v", err)
	}
	if a.pipeline != nil {
		t.Fatalf("expected the pipeline to be dropped")
	}
	if !errors.Is(a.voiceErr, voice.ErrMicrophoneUnavailable) {
		t.Fatalf("expected microphone error to be kept, got %v", a.voiceErr)
	}

	m := newModel(context.Background(), a, newEventBridge(1))
	if m.voiceState != "unavailable" || m.err == nil {
		t.Fatalf("expected voice to be shown as unavailable, got %q (%v)", m.voiceState, m.err)
	}
}

func TestEventBridgeStopsBlockingAfterClose(t *testing.T) {
	bridge := newEventBridge(1)
	bridge.handle(events.NewTurnStarted("t1", "agent"))

	done := make(chan struct{})
	go func() {
		bridge.handle(events.NewTurnCompleted("t1"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("expected handle to wait while the program is running")
	case <-time.After(50 * time.Millisecond):
	}

	bridge.close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected handle to return once the bridge is closed")
	}

	// Levels never block, even on a full buffer.
	bridge.handle(events.NewUserAudioLevel(40))

	msg := bridge.next()()
	if got, ok := msg.(eventMsg); !ok || got.event.Kind() != events.KindTurnStarted {
		t.Fatalf("expected the buffered event first, got %#v", msg)
	}
}
