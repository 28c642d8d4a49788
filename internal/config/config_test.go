package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"automation-gateway/middleware/admission/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
engine:
  path: "/usr/local/bin/engine"
  args: ["--batch"]
  critical_exit_codes: [70]
pool:
  max_handles: 8
  min_handles: 2
  acquire_timeout: 5
limits:
  - resource: external_connections
    max: 4
    warning: 3
    action: throttle
    window: 10
timeouts:
  script: 20
conflicts:
  - [file_write, script_execute]
permissions:
  allow: ["*"]
  deny: [system_control]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":9090")
	}
	pc := cfg.PoolConfig()
	if pc.MaxHandles != 8 || pc.MinHandles != 2 || pc.AcquireTimeout != 5*time.Second {
		t.Errorf("unexpected pool config %+v", pc)
	}
	// campos ausentes mantêm o padrão
	if pc.MaxWaitQueueLength != 100 {
		t.Errorf("MaxWaitQueueLength = %d, want default 100", pc.MaxWaitQueueLength)
	}

	limits, err := cfg.ResourceLimits()
	if err != nil {
		t.Fatalf("ResourceLimits() error = %v", err)
	}
	if len(limits) != 1 || limits[0].Resource != domain.ResourceExternalConnections || limits[0].Action != domain.ActionThrottle {
		t.Errorf("unexpected limits %+v", limits)
	}

	if got := cfg.TimeoutDefaults()[domain.ClassScript]; got != 20*time.Second {
		t.Errorf("script timeout = %s, want 20s", got)
	}

	table, err := cfg.ConflictTable()
	if err != nil {
		t.Fatalf("ConflictTable() error = %v", err)
	}
	if !table.Conflicts(domain.CategoryScriptExecute, domain.CategoryFileWrite) {
		t.Errorf("expected symmetric conflict between script_execute and file_write")
	}
	if table.Conflicts(domain.CategoryMacroCreate, domain.CategoryMacroDelete) {
		t.Errorf("conflicts from file must replace the defaults")
	}

	allow, deny, err := cfg.PermissionLists()
	if err != nil {
		t.Fatalf("PermissionLists() error = %v", err)
	}
	if len(allow) != len(domain.Categories) || !deny[domain.CategorySystemControl] {
		t.Errorf("unexpected permissions allow=%v deny=%v", allow, deny)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/gateway.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.MinHandles = 10
	cfg.Pool.MaxHandles = 2
	cfg.Limits = append(cfg.Limits, LimitConfig{Resource: "gpu", Max: 1, Action: "block", Window: 1})
	cfg.Conflicts = [][]string{{"macro_create"}}
	cfg.Stats.Backend = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"engine.path", "pool:", "limits[3]", "conflicts[0]", "stats.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestDefaults_MatchDomainDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Path = "/bin/true"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate once engine.path is set: %v", err)
	}
	if cfg.PoolConfig() != domain.DefaultPoolConfig() {
		t.Errorf("PoolConfig() = %+v, want %+v", cfg.PoolConfig(), domain.DefaultPoolConfig())
	}
	limits, _ := cfg.ResourceLimits()
	if len(limits) != len(domain.DefaultLimits()) {
		t.Errorf("expected %d default limits, got %d", len(domain.DefaultLimits()), len(limits))
	}
}

func TestLoad_CallerClasses(t *testing.T) {
	path := writeConfig(t, `
engine:
  path: "/usr/local/bin/engine"
caller:
  classes:
    script: {rps: 0.5, burst: 2}
    File:   {rps: 5, burst: 10}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.CallerEnabled() {
		t.Fatal("expected caller limit enabled by class entries alone")
	}
	classes, err := cfg.CallerClassLimits()
	if err != nil {
		t.Fatalf("CallerClassLimits() error = %v", err)
	}
	if got := classes[domain.ClassScript]; got.RPS != 0.5 || got.Burst != 2 {
		t.Errorf("script class = %+v", got)
	}
	if got := classes[domain.ClassFile]; got.RPS != 5 || got.Burst != 10 {
		t.Errorf("file class = %+v", got)
	}
}

func TestValidate_RejectsBadCallerClasses(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Path = "/bin/true"
	cfg.Caller.Classes = map[string]RateConfig{"teleport": {RPS: 1, Burst: 1}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "caller.classes") {
		t.Fatalf("expected caller.classes error for unknown class, got %v", err)
	}

	cfg.Caller.Classes = map[string]RateConfig{"script": {RPS: 1}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "caller.classes.script") {
		t.Fatalf("expected burst error, got %v", err)
	}

	cfg.Caller.Classes = nil
	if cfg.CallerEnabled() {
		t.Fatal("expected caller limit disabled by default")
	}
}
