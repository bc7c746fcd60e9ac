package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"planner/internal/storage"
	"planner/internal/task/scheduler"
	logx "planner/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	snap scheduler.Snapshot
	recs []storage.FireRecord
	err  error
	last struct {
		name  string
		limit int
	}
}

func (f *fakeSource) Snapshot() scheduler.Snapshot { return f.snap }

func (f *fakeSource) History(_ context.Context, name string, limit int) ([]storage.FireRecord, error) {
	f.last.name, f.last.limit = name, limit
	return f.recs, f.err
}

func newFake() *fakeSource {
	return &fakeSource{
		snap: scheduler.Snapshot{
			Enabled:  true,
			Running:  true,
			Timezone: "UTC",
			Plans: []scheduler.PlanInfo{
				{Name: "backup", Kind: "timing", Trigger: "timing(@daily)"},
				{Name: "boot", Kind: "start", Trigger: "start"},
			},
		},
		recs: []storage.FireRecord{{ID: "f-1", Plan: "backup", Seq: 1, Outcome: storage.OutcomeEnqueued}},
	}
}

func get(t *testing.T, h http.Handler, target string, hdr http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	src := newFake()
	h := New(Config{}, src, logx.Nop()).Handler(Config{})

	rec := get(t, h, "/plans", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/plans status = %d", rec.Code)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(src.snap.Plans, snap.Plans); diff != "" {
		t.Fatalf("plans (-want +got):\n%s", diff)
	}

	if rec := get(t, h, "/plans/boot", nil); rec.Code != http.StatusOK {
		t.Fatalf("/plans/boot status = %d", rec.Code)
	}
	if rec := get(t, h, "/plans/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("/plans/missing status = %d", rec.Code)
	}

	rec = get(t, h, "/plans/backup/history?limit=3", nil)
	if rec.Code != http.StatusOK || src.last.name != "backup" || src.last.limit != 3 {
		t.Fatalf("history status = %d, call = %+v", rec.Code, src.last)
	}
	var recs []storage.FireRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil || len(recs) != 1 || recs[0].ID != "f-1" {
		t.Fatalf("history body = %s (%v)", rec.Body, err)
	}
	if rec := get(t, h, "/plans/backup/history?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	src.err = storage.ErrDisabled
	if rec := get(t, h, "/plans/backup/history", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("disabled storage status = %d", rec.Code)
	}
	src.err = errors.New("disk on fire")
	if rec := get(t, h, "/plans/backup/history", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store error status = %d", rec.Code)
	}

	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off, status = %d", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	cfg := Config{Token: "s3cret", Pprof: true}
	h := New(cfg, newFake(), logx.Nop()).Handler(cfg)

	tests := []struct {
		name   string
		target string
		hdr    http.Header
		want   int
	}{
		{name: "healthz is open", target: "/healthz", want: http.StatusOK},
		{name: "no token", target: "/plans", want: http.StatusUnauthorized},
		{name: "wrong token", target: "/plans?token=nope", want: http.StatusUnauthorized},
		{name: "query token", target: "/plans?token=s3cret", want: http.StatusOK},
		{name: "bearer", target: "/plans", hdr: http.Header{"Authorization": {"Bearer s3cret"}}, want: http.StatusOK},
		{name: "pprof guarded", target: "/debug/pprof/", want: http.StatusUnauthorized},
		{name: "pprof", target: "/debug/pprof/?token=s3cret", want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := get(t, h, tc.target, tc.hdr); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6061": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6061":          false,
		"0.0.0.0:6061":   false,
		"10.0.0.1:6061":  false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServeAndReconfigure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, newFake(), logx.Nop())
	s.Start(ctx)

	addr := waitAddr(t, s)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("healthz = %q", body)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("still serving on %s", s.Addr())
	}

	// A public bind without a token is refused; the server never listens.
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"})
	time.Sleep(50 * time.Millisecond)
	if s.Addr() != "" {
		t.Fatalf("insecure bind served on %s", s.Addr())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never listened")
	return ""
}
