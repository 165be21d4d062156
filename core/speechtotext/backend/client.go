// Package backend transcribes through the stage audio API: a duplex
// websocket for streamed PCM and a JSON endpoint for whole WAV files.
package backend

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	batchPath  = "/api/asr/engines"
	streamPath = "/api/asr/engines/stream"
)

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithDefaults applies opts before the per-call options of every request.
func WithDefaults(opts ...speechtotext.TranscriptionOption) ClientOption {
	return func(c *Client) {
		c.defaults = append(c.defaults, opts...)
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	defaults   []speechtotext.TranscriptionOption
}

var (
	_ speechtotext.StreamingTranscriber = (*Client)(nil)
	_ speechtotext.BatchTranscriber     = (*Client)(nil)
)

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return "asr " + request.Method + " " + request.URL.Path
			}),
		)},
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) options(opts []speechtotext.TranscriptionOption) speechtotext.TranscriptionOptions {
	return speechtotext.NewTranscriptionOptions(append(append([]speechtotext.TranscriptionOption{}, c.defaults...), opts...)...)
}

// StreamURL maps an http(s) base to the ws(s) streaming endpoint. Bases
// without a scheme are treated as plain ws.
func StreamURL(baseURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", speechtotext.ErrNoBaseURL
	}

	switch {
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.Contains(base, "://"):
		return "", fmt.Errorf("unsupported audio API scheme in %q", baseURL)
	default:
		base = "ws://" + base
	}
	return base + streamPath, nil
}
