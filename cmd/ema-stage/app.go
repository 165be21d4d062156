package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	orchestration "github.com/koscakluka/ema-stage/core"
	"github.com/koscakluka/ema-stage/core/agents"
	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/audio/miniaudio"
	"github.com/koscakluka/ema-stage/core/audio/portaudio"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/conversations/badgerstore"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"github.com/koscakluka/ema-stage/core/speechtotext/backend"
	"github.com/koscakluka/ema-stage/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-stage/core/transport"
	"github.com/koscakluka/ema-stage/core/voice"
	"github.com/koscakluka/ema-stage/internal/config"
)

const actionTokensPrompt = "You may add inline action tokens such as <|motion:Idle|>, <|expression:smile|> or <|delay:0.5|>. " +
	"Tokens are not shown to the user."

// app owns every long lived component of the client.
type app struct {
	cfg          config.Config
	store        conversations.Store
	session      *transport.Session
	agent        *agents.Client
	orchestrator *orchestration.Orchestrator
	pipeline     *voice.Pipeline

	// voiceErr is set when voice was requested but the microphone could not
	// be used. Text chat keeps working.
	voiceErr error

	closers []io.Closer
}

func newApp(cfg config.Config, withVoice bool, onEvent events.Handler) (*app, error) {
	a := &app{cfg: cfg}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	sessionID := uuid.NewString()
	sessionOpts := []transport.SessionOption{
		transport.WithModuleName(cfg.ModuleName),
		transport.WithSessionID(sessionID),
	}
	if cfg.WSToken != "" {
		sessionOpts = append(sessionOpts, transport.WithToken(cfg.WSToken))
	}
	a.session = transport.NewSession(cfg.WSURL, sessionOpts...)
	a.agent = agents.NewClient(cfg.APIBaseURL)

	opts := []orchestration.OrchestratorOption{
		orchestration.WithTransport(a.session),
		orchestration.WithAgent(a.agent),
		orchestration.WithStore(a.store),
		orchestration.WithSessionID(sessionID),
		orchestration.WithMode(orchestration.Mode(cfg.Mode)),
		orchestration.WithEngine(cfg.AgentEngine),
		orchestration.WithUser(cfg.UserID, cfg.ProfileID),
		orchestration.WithProvider(cfg.Provider),
		orchestration.WithDeveloperPrompt(cfg.DeveloperPrompt),
		orchestration.WithSessionMeta(map[string]any{"client": cfg.ModuleName}),
	}
	if cfg.ActionTokens {
		opts = append(opts, orchestration.WithActionTokens(actionTokensPrompt))
	}
	a.orchestrator = orchestration.NewOrchestrator(opts...)
	a.orchestrator.OnEvent(onEvent)

	if withVoice {
		if err := a.initVoice(onEvent); err != nil {
			a.disableVoice(err)
		}
	}
	return a, nil
}

func (a *app) openStore() (conversations.Store, error) {
	if a.cfg.StorePath == "" {
		return conversations.NewMemoryStore(), nil
	}
	store, err := badgerstore.Open(a.cfg.StorePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *app) initVoice(onEvent events.Handler) error {
	source, err := a.openSource()
	if err != nil {
		return fmt.Errorf("%w: %w", voice.ErrMicrophoneUnavailable, err)
	}

	transcriptionOpts := []speechtotext.TranscriptionOption{
		speechtotext.WithEngine(a.cfg.ASREngine),
		speechtotext.WithModel(a.cfg.ASRModel),
		speechtotext.WithLanguage(a.cfg.ASRLanguage),
	}
	asr := backend.NewClient(a.cfg.APIBaseURL)

	pipelineOpts := []voice.PipelineOption{
		voice.WithMinSpeech(a.cfg.VADMinSpeech),
		voice.WithSilenceWindow(a.cfg.VADSilence),
		voice.WithBatch(asr),
		voice.WithTranscriptionOptions(transcriptionOpts...),
		voice.WithEventHandler(onEvent),
		voice.WithTranscriptHandler(a.orchestrator.Send),
	}
	if a.cfg.ASRStreaming {
		var streaming speechtotext.StreamingTranscriber = asr
		if a.cfg.ASRBackend == "deepgram" {
			streaming = deepgram.NewTranscriber()
		}
		pipelineOpts = append(pipelineOpts, voice.WithStreaming(streaming))
	}

	a.pipeline = voice.NewPipeline(audio.NewShared(source), pipelineOpts...)
	return nil
}

type closableSource interface {
	audio.Source
	io.Closer
}

func (a *app) openSource() (closableSource, error) {
	var (
		source closableSource
		err    error
	)
	switch a.cfg.AudioDevice {
	case "portaudio":
		source, err = portaudio.NewSource(portaudio.DefaultBufferSize)
	default:
		source, err = miniaudio.NewSource()
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, source)
	return source, nil
}

// Start loads history and connects. The voice pipeline is armed last so a
// transcript always finds a running orchestrator. A microphone that fails to
// arm only disables voice.
func (a *app) Start(ctx context.Context) error {
	if err := a.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	if a.pipeline != nil {
		if err := a.pipeline.Arm(ctx); err != nil {
			a.disableVoice(err)
		}
	}
	return nil
}

func (a *app) disableVoice(err error) {
	a.voiceErr = fmt.Errorf("voice disabled: %w", err)
	if a.pipeline != nil {
		_ = a.pipeline.Close(context.Background())
		a.pipeline = nil
	}
}

// Close tears components down in reverse dependency order.
func (a *app) Close() error {
	var errs []error
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close(context.Background()))
	}
	if a.orchestrator != nil {
		errs = append(errs, a.orchestrator.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
