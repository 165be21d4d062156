package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-stage/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	converted := encodingInfo{Channels: max(1, encoding.Channels)}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 44100, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.Format = encodingLinear16
	case audio.EncodingALaw:
		converted.Format = encodingALaw
	case audio.EncodingMulaw:
		converted.Format = encodingMulaw
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	// Companded telephony audio is only accepted at 8kHz.
	if converted.Format != encodingLinear16 && converted.SampleRate != 8000 {
		return nil, fmt.Errorf("unsupported sample rate %d for %s encoding", converted.SampleRate, converted.Format.Name())
	}
	return &converted, nil
}
