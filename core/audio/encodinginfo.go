package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Channels: DefaultChannels, Format: EncodingLinear16}
}

type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	return max(1, e.Channels)
}

// FrameSize is the number of bytes of one sample across all channels.
func (e EncodingInfo) FrameSize() int {
	return e.Format.ByteSize() * e.channels()
}

// Duration returns how long n bytes of audio in this encoding play for.
func (e EncodingInfo) Duration(n int) time.Duration {
	frameSize := e.FrameSize()
	if e.SampleRate <= 0 || frameSize <= 0 {
		return 0
	}
	samples := n / frameSize
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
