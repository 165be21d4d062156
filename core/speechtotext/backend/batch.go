package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/koscakluka/ema-stage/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type batchRequest struct {
	Engine string         `json:"engine"`
	Data   batchData      `json:"data"`
	Config map[string]any `json:"config"`
}

type batchData struct {
	AudioBase64 string `json:"audio_base64"`
}

// StatusError is returned when the audio API answers with a non-success
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("ASR request failed: %d", e.StatusCode)
}

// Transcribe posts a complete WAV file and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, wav []byte, opts ...speechtotext.TranscriptionOption) (speechtotext.Result, error) {
	ctx, span := tracer.Start(ctx, "transcribe wav")
	defer span.End()

	result, err := c.transcribe(ctx, wav, c.options(opts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return speechtotext.Result{}, err
	}
	span.SetAttributes(attribute.Int("transcript.length", len(result.Text)))
	return result, nil
}

func (c *Client) transcribe(ctx context.Context, wav []byte, options speechtotext.TranscriptionOptions) (speechtotext.Result, error) {
	if c.baseURL == "" {
		return speechtotext.Result{}, speechtotext.ErrNoBaseURL
	}

	body, err := json.Marshal(batchRequest{
		Engine: options.Engine,
		Data:   batchData{AudioBase64: base64.StdEncoding.EncodeToString(wav)},
		Config: options.RequestConfig(),
	})
	if err != nil {
		return speechtotext.Result{}, fmt.Errorf("failed to encode asr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return speechtotext.Result{}, fmt.Errorf("failed to build asr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return speechtotext.Result{}, fmt.Errorf("failed to send asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(resp.Body)
		return speechtotext.Result{}, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(detail))}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return speechtotext.Result{}, fmt.Errorf("failed to decode asr response: %w", err)
	}
	return speechtotext.NewResult(payload), nil
}
