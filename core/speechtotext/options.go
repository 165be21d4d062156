package speechtotext

import (
	"maps"
	"strings"

	"github.com/koscakluka/ema-stage/core/audio"
)

const (
	DefaultEngine = "default"

	wavFilename    = "audio.wav"
	wavContentType = "audio/wav"
)

type TranscriptionOptions struct {
	Engine   string
	Model    string
	Language string
	// Config is merged under the generated request config, Model and
	// Language win over keys of the same name.
	Config map[string]any

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		Engine:       DefaultEngine,
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithEngine(engine string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if engine = strings.TrimSpace(engine); engine != "" {
			o.Engine = engine
		}
	}
}

func WithModel(model string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Model = strings.TrimSpace(model)
	}
}

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = strings.TrimSpace(language)
	}
}

func WithConfig(config map[string]any) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Config = config
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}

// RequestConfig is the engine config sent along with WAV audio.
func (o TranscriptionOptions) RequestConfig() map[string]any {
	config := maps.Clone(o.Config)
	if config == nil {
		config = map[string]any{}
	}
	if o.Model != "" {
		config["model"] = o.Model
	}
	if o.Language != "" {
		config["language"] = o.Language
	}
	config["filename"] = wavFilename
	config["content_type"] = wavContentType
	return config
}
