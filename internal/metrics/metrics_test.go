package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveOperation("alpha", "start", nil)
	ObserveOperation("alpha", "stop", errors.New("timeout"))
	ObserveStartDuration("alpha", 2.5)
	ObserveJob("install", "modpack", "completed")
	SetQueueDepth("install", 2)
	cpu := 37.5
	SetSample("alpha", true, &cpu, 1<<30, 4)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"craftd_server_operations_total":      false,
		"craftd_server_start_verify_seconds":  false,
		"craftd_jobs_finished_total":          false,
		"craftd_jobs_queue_depth":             false,
		"craftd_server_up":                    false,
		"craftd_server_cpu_percent":           false,
		"craftd_server_resident_memory_bytes": false,
		"craftd_server_players_online":        false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", mf.GetName())
			}
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", n)
		}
	}

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `craftd_server_operations_total{op="stop",result="error",server="alpha"} 1`) {
		t.Errorf("scrape missing stop error counter:\n%s", body)
	}
}
