package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"automation-gateway/middleware/admission/domain"
)

// Config é a raiz da configuração do gateway.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Engine      EngineConfig      `yaml:"engine"`
	Pool        PoolConfig        `yaml:"pool"`
	Gate        GateConfig        `yaml:"gate"`
	Limits      []LimitConfig     `yaml:"limits"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Conflicts   [][]string        `yaml:"conflicts"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Caller      CallerConfig      `yaml:"caller"`
	Stats       StatsConfig       `yaml:"stats"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// EngineConfig descreve o binário do motor externo.
type EngineConfig struct {
	Path              string        `yaml:"path"`
	Args              []string      `yaml:"args"`
	Probe             CommandConfig `yaml:"probe"`
	CriticalExitCodes []int         `yaml:"critical_exit_codes"`
}

type CommandConfig struct {
	Name   string   `yaml:"name"`
	Args   []string `yaml:"args"`
	Script string   `yaml:"script"`
}

// PoolConfig usa segundos inteiros, como o restante do arquivo.
type PoolConfig struct {
	MaxHandles          int     `yaml:"max_handles"`
	MinHandles          int     `yaml:"min_handles"`
	MaxIdle             int     `yaml:"max_idle"`
	AcquireTimeout      int     `yaml:"acquire_timeout"`
	HealthCheckInterval int     `yaml:"health_check_interval"`
	MaxWaitQueue        int     `yaml:"max_wait_queue"`
	SpawnRate           float64 `yaml:"spawn_rate"`
	SpawnBurst          int     `yaml:"spawn_burst"`
}

type GateConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	// BaseBackoff em segundos: espera sugerida por unidade de excesso.
	BaseBackoff float64 `yaml:"base_backoff"`
}

type LimitConfig struct {
	Resource string  `yaml:"resource"`
	Max      float64 `yaml:"max"`
	Warning  float64 `yaml:"warning"`
	Action   string  `yaml:"action"`
	Window   int     `yaml:"window"`
}

// TimeoutsConfig define o teto padrão, em segundos, por classe de operação.
type TimeoutsConfig struct {
	Macro    int `yaml:"macro"`
	File     int `yaml:"file"`
	Script   int `yaml:"script"`
	System   int `yaml:"system"`
	Network  int `yaml:"network"`
	Fallback int `yaml:"fallback"`
}

type PermissionsConfig struct {
	Allow         []string `yaml:"allow"`
	Deny          []string `yaml:"deny"`
	DeniedTargets []string `yaml:"denied_targets"`
}

// CallerConfig controla o rate limit por chamador e classe de categoria.
// RPS vale para as classes sem entrada em Classes; RPS <= 0 deixa a classe
// sem limite.
type CallerConfig struct {
	RPS                float64               `yaml:"rps"`
	Burst              int                   `yaml:"burst"`
	Classes            map[string]RateConfig `yaml:"classes"`
	KeyHeader          string                `yaml:"key_header"`
	TrustXForwardedFor bool                  `yaml:"trust_x_forwarded_for"`
	IdleTTL            int                   `yaml:"idle_ttl"`
	RetryAfter         int                   `yaml:"retry_after"`
}

type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StatsConfig struct {
	// Backend: "memory" ou "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// TTL em horas para as chaves de estatística.
	TTL    int    `yaml:"ttl"`
	Bucket string `yaml:"bucket"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load lê o YAML em path sobre os padrões e valida. path vazio usa só os
// padrões. Variáveis GATEWAY_* e flags são aplicadas pelo comando (viper).
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read é Load sem a validação final, para quem ainda vai aplicar flags.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// Defaults retorna a configuração padrão documentada.
func Defaults() *Config {
	pool := domain.DefaultPoolConfig()
	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10,
			WriteTimeout: 120,
			IdleTimeout:  60,
			MaxBodyBytes: 1 << 20,
		},
		Engine: EngineConfig{
			Probe: CommandConfig{Name: "probe"},
		},
		Pool: PoolConfig{
			MaxHandles:          pool.MaxHandles,
			MinHandles:          pool.MinHandles,
			MaxIdle:             int(pool.MaxIdleDuration / time.Second),
			AcquireTimeout:      int(pool.AcquireTimeout / time.Second),
			HealthCheckInterval: int(pool.HealthCheckInterval / time.Second),
			MaxWaitQueue:        pool.MaxWaitQueueLength,
			SpawnRate:           20,
		},
		Gate: GateConfig{
			MaxConcurrent: 50,
			BaseBackoff:   2,
		},
		Timeouts: TimeoutsConfig{
			Macro:    30,
			File:     10,
			Script:   15,
			System:   5,
			Network:  30,
			Fallback: 30,
		},
		Conflicts: [][]string{
			{"macro_create", "macro_delete"},
			{"macro_create", "macro_modify"},
			{"macro_delete", "macro_modify"},
		},
		Permissions: PermissionsConfig{
			Allow: []string{"*"},
		},
		Caller: CallerConfig{
			RPS:        0,
			Burst:      10,
			IdleTTL:    900,
			RetryAfter: 1,
		},
		Stats: StatsConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "admission:stats",
				TTL:    24,
				Bucket: "minute",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	for _, l := range domain.DefaultLimits() {
		cfg.Limits = append(cfg.Limits, LimitConfig{
			Resource: string(l.Resource),
			Max:      l.Max,
			Warning:  l.Warning,
			Action:   l.Action.String(),
			Window:   int(l.Window / time.Second),
		})
	}
	return cfg
}

// Validate acumula todos os erros encontrados em uma única mensagem.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if strings.TrimSpace(c.Engine.Path) == "" {
		errs = append(errs, "engine.path is required (set GATEWAY_ENGINE_PATH)")
	}
	if err := c.PoolConfig().Validate(); err != nil {
		errs = append(errs, "pool: "+err.Error())
	}
	if _, err := c.ResourceLimits(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.ConflictTable(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, _, err := c.PermissionLists(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Caller.RPS > 0 && c.Caller.Burst <= 0 {
		errs = append(errs, "caller.burst must be > 0 when caller.rps is set")
	}
	if _, err := c.CallerClassLimits(); err != nil {
		errs = append(errs, err.Error())
	}
	switch strings.ToLower(c.Stats.Backend) {
	case "memory", "":
	case "redis":
		if c.Stats.Redis.Addr == "" {
			errs = append(errs, "stats.redis.addr is required for redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("stats.backend %q must be memory or redis", c.Stats.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PoolConfig converte a seção pool para o domínio.
func (c *Config) PoolConfig() domain.PoolConfig {
	return domain.PoolConfig{
		MaxHandles:          c.Pool.MaxHandles,
		MinHandles:          c.Pool.MinHandles,
		MaxIdleDuration:     seconds(c.Pool.MaxIdle),
		AcquireTimeout:      seconds(c.Pool.AcquireTimeout),
		HealthCheckInterval: seconds(c.Pool.HealthCheckInterval),
		MaxWaitQueueLength:  c.Pool.MaxWaitQueue,
	}
}

func (c *Config) ResourceLimits() ([]domain.ResourceLimit, error) {
	out := make([]domain.ResourceLimit, 0, len(c.Limits))
	seen := make(map[domain.Resource]bool, len(c.Limits))
	for i, lc := range c.Limits {
		res, err := domain.ParseResource(lc.Resource)
		if err != nil {
			return nil, fmt.Errorf("limits[%d]: %w", i, err)
		}
		if seen[res] {
			return nil, fmt.Errorf("limits[%d]: duplicate resource %s", i, res)
		}
		seen[res] = true

		act, err := domain.ParseAction(lc.Action)
		if err != nil {
			return nil, fmt.Errorf("limits[%d]: %w", i, err)
		}
		l := domain.ResourceLimit{
			Resource: res,
			Max:      lc.Max,
			Warning:  lc.Warning,
			Action:   act,
			Window:   seconds(lc.Window),
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("limits[%d]: %w", i, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// TimeoutDefaults retorna os tetos por classe; zero mantém o padrão da aplicação.
func (c *Config) TimeoutDefaults() map[domain.Class]time.Duration {
	out := make(map[domain.Class]time.Duration, 5)
	set := func(cl domain.Class, s int) {
		if s > 0 {
			out[cl] = seconds(s)
		}
	}
	set(domain.ClassMacro, c.Timeouts.Macro)
	set(domain.ClassFile, c.Timeouts.File)
	set(domain.ClassScript, c.Timeouts.Script)
	set(domain.ClassSystem, c.Timeouts.System)
	set(domain.ClassNetwork, c.Timeouts.Network)
	return out
}

func (c *Config) TimeoutFallback() time.Duration { return seconds(c.Timeouts.Fallback) }

func (c *Config) ConflictTable() (domain.ConflictTable, error) {
	pairs := make([][2]domain.Category, 0, len(c.Conflicts))
	for i, p := range c.Conflicts {
		if len(p) != 2 {
			return nil, fmt.Errorf("conflicts[%d]: expected a pair, got %d entries", i, len(p))
		}
		a, err := domain.ParseCategory(p[0])
		if err != nil {
			return nil, fmt.Errorf("conflicts[%d]: %w", i, err)
		}
		b, err := domain.ParseCategory(p[1])
		if err != nil {
			return nil, fmt.Errorf("conflicts[%d]: %w", i, err)
		}
		pairs = append(pairs, [2]domain.Category{a, b})
	}
	return domain.NewConflictTable(pairs...), nil
}

// CallerEnabled diz se alguma classe tem taxa por chamador.
func (c *Config) CallerEnabled() bool {
	if c.Caller.RPS > 0 {
		return true
	}
	for _, r := range c.Caller.Classes {
		if r.RPS > 0 {
			return true
		}
	}
	return false
}

// CallerClassLimits converte caller.classes para o domínio.
func (c *Config) CallerClassLimits() (map[domain.Class]RateConfig, error) {
	out := make(map[domain.Class]RateConfig, len(c.Caller.Classes))
	for name, r := range c.Caller.Classes {
		class, err := domain.ParseClass(name)
		if err != nil {
			return nil, fmt.Errorf("caller.classes: %w", err)
		}
		if r.RPS > 0 && r.Burst <= 0 {
			return nil, fmt.Errorf("caller.classes.%s: burst must be > 0 when rps is set", name)
		}
		out[class] = r
	}
	return out, nil
}

// PermissionLists converte allow/deny em conjuntos de categorias.
func (c *Config) PermissionLists() (allow, deny map[domain.Category]bool, err error) {
	allow, err = categorySet("permissions.allow", c.Permissions.Allow)
	if err != nil {
		return nil, nil, err
	}
	deny, err = categorySet("permissions.deny", c.Permissions.Deny)
	if err != nil {
		return nil, nil, err
	}
	return allow, deny, nil
}

func categorySet(field string, names []string) (map[domain.Category]bool, error) {
	out := make(map[domain.Category]bool, len(names))
	for _, n := range names {
		// "*" libera todas as categorias
		if strings.TrimSpace(n) == "*" {
			for _, cat := range domain.Categories {
				out[cat] = true
			}
			continue
		}
		cat, err := domain.ParseCategory(n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		out[cat] = true
	}
	return out, nil
}

func (c *Config) EngineProbe() domain.Command {
	return domain.Command{Name: c.Engine.Probe.Name, Args: c.Engine.Probe.Args, Script: c.Engine.Probe.Script}
}

func (c *Config) GetReadTimeout() time.Duration  { return seconds(c.HTTP.ReadTimeout) }
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.HTTP.WriteTimeout) }
func (c *Config) GetIdleTimeout() time.Duration  { return seconds(c.HTTP.IdleTimeout) }

func seconds(s int) time.Duration { return time.Duration(s) * time.Second }
