package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type Engine struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Options     []any  `json:"options,omitempty"`
	Description string `json:"description,omitempty"`
}

type Health struct {
	OK         bool     `json:"ok"`
	StatusCode *int     `json:"status_code,omitempty"`
	Message    *string  `json:"message,omitempty"`
	LatencyMS  *float64 `json:"latency_ms,omitempty"`
}

func (c *Client) ListEngines(ctx context.Context) ([]Engine, error) {
	var result struct {
		Engines []Engine `json:"engines"`
	}
	if err := c.doJSON(ctx, http.MethodGet, enginesPath, nil, &result); err != nil {
		return nil, err
	}
	return result.Engines, nil
}

// DefaultEngine returns nil without error when the backend has no default.
func (c *Client) DefaultEngine(ctx context.Context) (*Engine, error) {
	var result struct {
		Engine *Engine `json:"engine"`
	}
	if err := c.doJSON(ctx, http.MethodGet, enginesPath+"/default", nil, &result); err != nil {
		return nil, err
	}
	return result.Engine, nil
}

func (c *Client) EngineParams(ctx context.Context, engineID string) ([]Param, error) {
	var result struct {
		Params []Param `json:"params"`
	}
	if err := c.doJSON(ctx, http.MethodGet, enginesPath+"/"+url.PathEscape(engineID)+"/params", nil, &result); err != nil {
		return nil, err
	}
	return result.Params, nil
}

// CheckHealth asks an engine for its health. With a non-empty config the
// check is a POST carrying it, otherwise a GET.
func (c *Client) CheckHealth(ctx context.Context, engineID string, config map[string]any) (Health, error) {
	path := enginesPath + "/" + url.PathEscape(engineID) + "/health"

	var health Health
	var err error
	if len(config) > 0 {
		err = c.doJSON(ctx, http.MethodPost, path, map[string]any{"config": config}, &health)
	} else {
		err = c.doJSON(ctx, http.MethodGet, path, nil, &health)
	}
	return health, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	ctx, span := tracer.Start(ctx, method+" "+path)
	defer span.End()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{StatusCode: resp.StatusCode}
		span.RecordError(err)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.WarnContext(ctx, "agent API returned non-JSON response", "path", path, "error", err)
		return fmt.Errorf("agent API returned non-JSON response, check the API base URL: %w", err)
	}
	return nil
}
