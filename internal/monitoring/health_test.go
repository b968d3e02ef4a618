package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthReportsEngineInfo(t *testing.T) {
	hm := NewHealthMonitor()
	hm.SetEngineInfo(EngineInfo{
		Model:         "dolly-v2-3b",
		Layers:        32,
		Heads:         32,
		ContextLength: 2048,
		ModelLoaded:   true,
	})
	srv := httptest.NewServer(hm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Fatalf("status %q, want ok", body.Status)
	}
	if body.Engine.Model != "dolly-v2-3b" || body.Engine.Layers != 32 {
		t.Fatalf("engine info %+v", body.Engine)
	}
}

func TestHealthLoadingBeforeModelReady(t *testing.T) {
	hm := NewHealthMonitor()
	srv := httptest.NewServer(hm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "loading" {
		t.Fatalf("status %q, want loading", body.Status)
	}
}

func TestHealthzAndMetricsEndpoints(t *testing.T) {
	hm := NewHealthMonitor()
	srv := httptest.NewServer(hm.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
	}
}
