// Package agents is a client for agent engines that answer over a streamed
// HTTP response of event frames.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const enginesPath = "/api/agent/engines"

// StatusError is returned when an agent endpoint answers with a non-success
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Agent API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("Agent API error: %d %s", e.StatusCode, e.Body)
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type StreamRequest struct {
	Engine    string
	Text      string
	SessionID string
	UserID    string
	ProfileID string
	Config    map[string]any
}

type streamRequestBody struct {
	Engine string         `json:"engine"`
	Data   streamData     `json:"data"`
	Config map[string]any `json:"config"`
}

type streamData struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
}

// Stream posts req and calls onEvent for every frame of the response, one at
// a time and in arrival order. A frame is not read past until onEvent
// returned. An error from onEvent stops the stream and is returned.
//
// Cancelling ctx aborts the request; Stream then returns nil rather than an
// error.
func (c *Client) Stream(ctx context.Context, req StreamRequest, onEvent func(context.Context, Event) error) error {
	ctx, span := tracer.Start(ctx, "stream agent response")
	defer span.End()
	span.SetAttributes(attribute.String("agent.engine", req.Engine))

	config := req.Config
	if config == nil {
		config = map[string]any{}
	}
	body, err := json.Marshal(streamRequestBody{
		Engine: req.Engine,
		Data: streamData{
			Text:      req.Text,
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ProfileID: req.ProfileID,
		},
		Config: config,
	})
	if err != nil {
		err = fmt.Errorf("failed to marshal agent request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+enginesPath, bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("failed to create agent request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if cancelled(ctx) {
			span.AddEvent("cancelled before response")
			return nil
		}
		err = fmt.Errorf("failed to send agent request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message, _ := io.ReadAll(resp.Body)
		err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(message))}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	frames := newFrameReader(resp.Body)
	dispatched := 0
	for {
		event, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cancelled(ctx) {
				span.AddEvent("cancelled mid-stream")
				return nil
			}
			err = fmt.Errorf("failed to read agent stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		dispatched++
		framesCounter.Add(ctx, 1)
		if err := onEvent(ctx, event); err != nil {
			if cancelled(ctx) {
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	span.SetAttributes(attribute.Int("agent.frames", dispatched))
	return nil
}

func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
