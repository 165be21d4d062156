package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEngineEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent/engines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"engines":[{"id":"a","label":"Agent A"},{"id":"b","label":"Agent B"}]}`))
	})
	mux.HandleFunc("GET /api/agent/engines/default", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"engine":null}`))
	})
	mux.HandleFunc("GET /api/agent/engines/a/params", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"params":[{"name":"model","type":"string","required":true}]}`))
	})
	mux.HandleFunc("GET /api/agent/engines/a/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"latency_ms":12}`))
	})
	mux.HandleFunc("POST /api/agent/engines/a/health", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Config map[string]any `json:"config"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Config["model"] != "m" {
			w.Write([]byte(`{"ok":false,"message":"missing config"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"status_code":200}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	engines, err := client.ListEngines(ctx)
	if err != nil || len(engines) != 2 || engines[1].Label != "Agent B" {
		t.Fatalf("expected two engines, got %v (%v)", engines, err)
	}

	engine, err := client.DefaultEngine(ctx)
	if err != nil || engine != nil {
		t.Fatalf("expected no default engine, got %v (%v)", engine, err)
	}

	params, err := client.EngineParams(ctx, "a")
	if err != nil || len(params) != 1 || !params[0].Required {
		t.Fatalf("expected one required param, got %v (%v)", params, err)
	}

	health, err := client.CheckHealth(ctx, "a", nil)
	if err != nil || !health.OK || health.LatencyMS == nil || *health.LatencyMS != 12 {
		t.Fatalf("expected GET health check, got %+v (%v)", health, err)
	}

	health, err = client.CheckHealth(ctx, "a", map[string]any{"model": "m"})
	if err != nil || !health.OK || health.StatusCode == nil || *health.StatusCode != 200 {
		t.Fatalf("expected POST health check, got %+v (%v)", health, err)
	}
}

func TestEngineEndpointStatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewClient(server.URL).ListEngines(context.Background()); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}
