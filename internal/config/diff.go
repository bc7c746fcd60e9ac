package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "planner/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of plans that were
// added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if oSch.Enabled != nSch.Enabled ||
		strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) ||
		strings.TrimSpace(oSch.Jitter) != strings.TrimSpace(nSch.Jitter) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", nSch.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
			logx.String("scheduler.jitter", strings.TrimSpace(nSch.Jitter)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := nSch.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Nil means disabled. Paths are reported as set/unset only.
	var oDriver, nDriver string
	var oPath, nPath string
	if oldCfg.Storage != nil {
		oDriver, oPath = strings.TrimSpace(oldCfg.Storage.Driver), strings.TrimSpace(oldCfg.Storage.Path)
	}
	if newCfg.Storage != nil {
		nDriver, nPath = strings.TrimSpace(newCfg.Storage.Driver), strings.TrimSpace(newCfg.Storage.Path)
	}
	if oDriver != nDriver || oPath != nPath || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	// Token changes are reported as set/unset only.
	oSt, nSt := oldCfg.Status, newCfg.Status
	oTok, nTok := strings.TrimSpace(oSt.Token), strings.TrimSpace(nSt.Token)
	oSt.Token, nSt.Token = "", ""
	if oSt != nSt || oTok != nTok {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nSt.Enabled),
			logx.String("status.addr", strings.TrimSpace(nSt.Addr)),
			logx.Bool("status.pprof", nSt.Pprof),
			logx.Bool("status.token_set", nTok != ""),
		)
	}

	plans := diffPlans(oldCfg.Plans, newCfg.Plans)
	if len(plans) > 0 {
		changed = append(changed, "plans")
		attrs = append(attrs,
			logx.Int("plans.changed_count", len(plans)),
			logx.Int("plans.total", len(newCfg.Plans)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, plans
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func diffPlans(oldP, newP []PlanConfig) []string {
	index := func(ps []PlanConfig) map[string]uint64 {
		m := make(map[string]uint64, len(ps))
		for _, p := range ps {
			m[strings.TrimSpace(p.Name)] = hashPlan(p)
		}
		return m
	}
	om, nm := index(oldP), index(newP)

	out := make([]string, 0)
	for name, h := range nm {
		if oh, ok := om[name]; !ok || oh != h {
			out = append(out, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PlanHash identifies a plan declaration; equal hashes mean nothing about
// the plan changed.
func PlanHash(p PlanConfig) uint64 { return hashPlan(p) }

func hashPlan(p PlanConfig) uint64 {
	p.Name = strings.TrimSpace(p.Name)
	b, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
