package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
  jitter: 2s
storage:
  driver: sqlite
  path: ./planner.db
plans:
  - name: warmup
    trigger: { kind: start }
    action: { type: log, message: "host up" }
  - name: backup
    trigger:
      schedule: "0 3 * * *"
      repeat: 7
      anchor: "2026-01-01T00:00:00Z"
    action:
      type: exec
      command: /usr/local/bin/backup
      args: [--full]
    timeout: 10m
    overlap: skip
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("planner.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	seven := 7
	want := []PlanConfig{
		{Name: "warmup", Trigger: TriggerConfig{Kind: "start"}, Action: ActionConfig{Type: "log", Message: "host up"}},
		{
			Name:    "backup",
			Trigger: TriggerConfig{Schedule: "0 3 * * *", Repeat: &seven, Anchor: "2026-01-01T00:00:00Z"},
			Action:  ActionConfig{Type: "exec", Command: "/usr/local/bin/backup", Args: []string{"--full"}},
			Timeout: "10m",
			Overlap: "skip",
		},
	}
	if diff := cmp.Diff(want, cfg.Plans); diff != "" {
		t.Fatalf("plans (-want +got):\n%s", diff)
	}
	d, err := cfg.Plans[1].Trigger.Descriptor("plans[1].trigger")
	if err != nil || !d.Bounded() || d.Anchor.IsZero() {
		t.Fatalf("descriptor = %+v, %v", d, err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"scheduler":{"enabled":true,"workers":2}}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := Decode("c.yml", []byte("plans: [")); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestDecodeFormats(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		file    string
		data    string
		wantErr error
		check   func(*Config) bool
	}{
		{
			name:  "json without extension",
			file:  "/dev/stdin",
			data:  `{"scheduler":{"timezone":"UTC"}}`,
			check: func(c *Config) bool { return c.Scheduler.Timezone == "UTC" },
		},
		{
			name:  "yaml without extension",
			file:  "planner.conf",
			data:  "scheduler:\n  timezone: UTC\n",
			check: func(c *Config) bool { return c.Scheduler.Timezone == "UTC" },
		},
		{
			name: "tagged timestamp anchor",
			file: "p.yaml",
			data: "plans:\n  - name: a\n    trigger: { schedule: 1h, repeat: 2, anchor: !!timestamp 2026-01-02T03:00:00Z }\n    action: { type: log }\n",
			check: func(c *Config) bool {
				at, err := time.Parse(time.RFC3339, c.Plans[0].Trigger.Anchor)
				return err == nil && at.Equal(anchor)
			},
		},
		{name: "empty", file: "p.yaml", data: "  \n", wantErr: errEmptyConfig},
		{name: "comments only", file: "p.yaml", data: "# nothing yet\n", wantErr: errEmptyConfig},
		{name: "empty json", file: "p.json", data: "", wantErr: errEmptyConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.file, []byte(tc.data))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(cfg) {
				t.Fatalf("decoded %+v", cfg)
			}
		})
	}
	if _, err := Decode("p.yaml", []byte("- a\n- b\n")); err == nil || !strings.Contains(err.Error(), "mapping") {
		t.Fatalf("top-level list err = %v", err)
	}
}

func TestCheckDurationsJoinsEveryFailure(t *testing.T) {
	t.Parallel()
	err := checkDurations(
		durationField{"a.ok", "5s"},
		durationField{"b.bad", "soon"},
		durationField{"c.neg", "-1m"},
		durationField{"d.empty", ""},
	)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"b.bad", "c.neg"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "a.ok") || strings.Contains(err.Error(), "d.empty") {
		t.Errorf("valid fields reported: %v", err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Errorf("ParseDurationOrDefault(0s) = %v, %v", d, err)
	}
}

func TestValidateReportsPaths(t *testing.T) {
	t.Parallel()
	zero := 0
	cfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true, Timezone: "Mars/Olympus", Jitter: "-1s"},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Status:    StatusConfig{Enabled: true, Addr: "6061", ReadTimeout: "fast"},
		Plans: []PlanConfig{
			{Name: "a", Trigger: TriggerConfig{Schedule: "5m", Repeat: &zero}, Action: ActionConfig{Type: "log"}},
			{Name: "a", Trigger: TriggerConfig{Kind: "start"}, Action: ActionConfig{Type: "exec"}},
			{Name: "c", Trigger: TriggerConfig{Kind: "start", Schedule: "5m"}, Action: ActionConfig{Type: "mail"}},
			{Name: "d", Trigger: TriggerConfig{Schedule: "1h", Anchor: "yesterday"}, Action: ActionConfig{Type: "systemd", Unit: "x"}, Overlap: "queue"},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"scheduler.timezone",
		"scheduler.jitter",
		"storage.path is required",
		"status.addr",
		"status.read_timeout",
		"plans[0].trigger",
		`plans[1].name: "a" already declared by plans[0]`,
		"plans[1].action.command",
		"plans[2].trigger",
		`plans[2].action.type: unknown "mail"`,
		"plans[3].trigger.anchor",
		"plans[3].overlap",
		"plans[3].action.op",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestValidateAcceptsUnanchoredBoundedPlan(t *testing.T) {
	t.Parallel()
	three := 3
	cfg := &Config{Plans: []PlanConfig{{
		Name:    "thrice",
		Trigger: TriggerConfig{Schedule: "@hourly", Repeat: &three},
		Action:  ActionConfig{Type: "log", Message: "tick"},
	}}}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := &Config{
		Scheduler: SchedulerConfig{Enabled: true},
		Plans: []PlanConfig{
			{Name: "keep", Trigger: TriggerConfig{Schedule: "1h"}, Action: ActionConfig{Type: "log"}},
			{Name: "edit", Trigger: TriggerConfig{Schedule: "1h"}, Action: ActionConfig{Type: "log"}},
			{Name: "drop", Trigger: TriggerConfig{Kind: "start"}, Action: ActionConfig{Type: "log"}},
		},
	}
	next := &Config{
		Scheduler: SchedulerConfig{Enabled: true, Timezone: "UTC"},
		Plans: []PlanConfig{
			{Name: "keep", Trigger: TriggerConfig{Schedule: "1h"}, Action: ActionConfig{Type: "log"}},
			{Name: "edit", Trigger: TriggerConfig{Schedule: "2h"}, Action: ActionConfig{Type: "log"}},
			{Name: "new", Trigger: TriggerConfig{Kind: "start"}, Action: ActionConfig{Type: "log"}},
		},
	}
	sections, _, plans := SummarizeConfigChange(base, next)
	if diff := cmp.Diff([]string{"plans", "scheduler"}, sections); diff != "" {
		t.Errorf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"drop", "edit", "new"}, plans); diff != "" {
		t.Errorf("plans (-want +got):\n%s", diff)
	}
	if s, _, p := SummarizeConfigChange(base, base); len(s) != 0 || len(p) != 0 {
		t.Errorf("identical configs reported changes: %v %v", s, p)
	}
}

func TestSummarizeStatusHidesToken(t *testing.T) {
	t.Parallel()
	a := &Config{Status: StatusConfig{Enabled: true, Token: "one"}}
	b := &Config{Status: StatusConfig{Enabled: true, Token: "two"}}
	sections, attrs, _ := SummarizeConfigChange(a, b)
	if diff := cmp.Diff([]string{"status"}, sections); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := logger.Info()
	for _, f := range attrs {
		f(e)
	}
	e.Msg("")
	if out := buf.String(); strings.Contains(out, `"one"`) || strings.Contains(out, `"two"`) || !strings.Contains(out, `"status.token_set":true`) {
		t.Fatalf("status attrs = %s", out)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, %v", tc.raw, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Errorf("default not applied: %v", d)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "planner.json")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"scheduler":{"enabled":true}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Invalid configs are never published.
	write(`{"scheduler":{"enabled":true,"timezone":"Nowhere/Land"}}`)

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case cfg := <-sub:
			if cfg.Scheduler.Timezone != "UTC" {
				t.Fatalf("published config = %+v", cfg.Scheduler)
			}
			if got := m.Get(); got.Scheduler.Timezone != "UTC" {
				t.Fatal("published config was not committed")
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is armed.
			write(fmt.Sprintf(`{"scheduler":{"enabled":true,"timezone":"UTC"},"logging":{"level":"info","console":%v}}`, i%2 == 0))
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}
