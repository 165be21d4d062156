package orchestration

import (
	"context"
	"strings"

	"github.com/koscakluka/ema-stage/core/agents"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/transport"
)

type OrchestratorOption func(*Orchestrator)

type Mode string

const (
	// ModeProvider sends turns over the event socket.
	ModeProvider Mode = "provider"
	// ModeAgent streams turns from an agent engine over HTTP.
	ModeAgent Mode = "agent"
)

// Transport is the event socket used in provider mode. *transport.Session
// implements it.
type Transport interface {
	Connect(ctx context.Context)
	Disconnect() error
	Status() transport.Status
	Send(ctx context.Context, env transport.Envelope) error
	OnEvent(handler func(transport.Envelope)) (unregister func())
	OnStatus(handler func(transport.Status)) (unregister func())
}

// AgentStreamer streams agent mode turns. *agents.Client implements it.
type AgentStreamer interface {
	Stream(ctx context.Context, req agents.StreamRequest, onEvent func(context.Context, agents.Event) error) error
}

func WithTransport(t Transport) OrchestratorOption {
	return func(o *Orchestrator) {
		o.transport = t
	}
}

func WithAgent(agent AgentStreamer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.agent = agent
	}
}

func WithMode(mode Mode) OrchestratorOption {
	return func(o *Orchestrator) {
		o.mode = mode
	}
}

func WithEngine(engine string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.engine = strings.TrimSpace(engine)
	}
}

// WithEngineConfig sets the config sent with every agent request. Nil and
// blank values are dropped before sending.
func WithEngineConfig(config map[string]any) OrchestratorOption {
	return func(o *Orchestrator) {
		o.engineConfig = config
	}
}

func WithStore(store conversations.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

func WithSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionID = id
	}
}

func WithUser(userID, profileID string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.userID = userID
		o.profileID = profileID
	}
}

// WithProvider names the chat provider requested in provider mode turns.
func WithProvider(provider string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.provider = provider
	}
}

// WithDeveloperPrompt sets the base developer prompt sent when a session
// starts.
func WithDeveloperPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.developerPrompt = strings.TrimSpace(prompt)
	}
}

// WithActionTokens asks the assistant for inline action tokens. prompt
// explains the token grammar and is appended to the developer prompt. Turns
// that end without any token produce a warning message.
func WithActionTokens(prompt string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.actionTokens = true
		o.actionTokensPrompt = strings.TrimSpace(prompt)
	}
}

func WithSessionMeta(meta map[string]any) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionMeta = meta
	}
}
