package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Replica describe una base participante de la malla. Code es el código
// corto que la réplica usa como componente de vector clock; debe ser
// único dentro del archivo.
type Replica struct {
	Driver string `yaml:"driver"` // postgres | sqlite | memory
	DSN    string `yaml:"dsn"`
	Code   string `yaml:"code"`
}

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		AdminAPIKey        string   `yaml:"admin_api_key"`
	} `yaml:"server"`

	// Hub nombra la réplica autoritativa; el resto son edges con sync_log.
	Hub string `yaml:"hub"`

	Replicas map[string]Replica `yaml:"replicas"`

	Sync struct {
		BatchSize    int    `yaml:"batch_size"`
		PollInterval string `yaml:"poll_interval"`
		ApplyTimeout string `yaml:"apply_timeout"`
		// FailedSkipAfter: reintentos antes de marcar failed y avanzar
		// el cursor. 0 = nunca saltear, la entrada bloquea el flujo.
		FailedSkipAfter int `yaml:"failed_skip_after"`
	} `yaml:"sync"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer     string `yaml:"issuer"`
		Secret     string `yaml:"secret"`
		LinkTTL    string `yaml:"link_ttl"`    // magic link de conflicto
		SessionTTL string `yaml:"session_ttl"` // sesión post-redeem
	} `yaml:"jwt"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	Email struct {
		Enabled      bool     `yaml:"enabled"`
		BaseURL      string   `yaml:"base_url"`
		TemplatesDir string   `yaml:"templates_dir"`
		NotifyTo     []string `yaml:"notify_to"` // operadores a avisar por conflicto
	} `yaml:"email"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = "5s"
	}
	if c.Sync.ApplyTimeout == "" {
		c.Sync.ApplyTimeout = "10s"
	}
	if c.JWT.LinkTTL == "" {
		c.JWT.LinkTTL = "30m"
	}
	if c.JWT.SessionTTL == "" {
		c.JWT.SessionTTL = "15m"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "syncmesh"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}

	// validate string durations
	for _, d := range []string{
		c.Sync.PollInterval,
		c.Sync.ApplyTimeout,
		c.JWT.LinkTTL,
		c.JWT.SessionTTL,
		c.Cache.Memory.DefaultTTL,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("config: invalid duration %q: %w", d, err)
		}
	}

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate chequea la coherencia de la malla de réplicas.
func (c *Config) Validate() error {
	if len(c.Replicas) == 0 {
		return fmt.Errorf("config: no replicas defined")
	}
	if c.Hub == "" {
		return fmt.Errorf("config: hub replica not named")
	}
	if _, ok := c.Replicas[c.Hub]; !ok {
		return fmt.Errorf("config: hub %q not present in replicas", c.Hub)
	}
	seen := map[string]string{}
	for name, r := range c.Replicas {
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("config: replica %q has no clock code", name)
		}
		if prev, dup := seen[r.Code]; dup {
			return fmt.Errorf("config: replicas %q and %q share clock code %q", prev, name, r.Code)
		}
		seen[r.Code] = name
		switch r.Driver {
		case "postgres", "sqlite", "memory":
		default:
			return fmt.Errorf("config: replica %q has unknown driver %q", name, r.Driver)
		}
	}
	if c.Sync.FailedSkipAfter < 0 {
		return fmt.Errorf("config: failed_skip_after must be >= 0")
	}
	if strings.EqualFold(c.App.Env, "prod") && strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("config: jwt.secret is required in prod")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	return nil
}

// Edges devuelve los nombres de réplicas que no son el hub, orden estable.
func (c *Config) Edges() []string {
	out := make([]string, 0, len(c.Replicas))
	for name := range c.Replicas {
		if name != c.Hub {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PollInterval parsea Sync.PollInterval (ya validado en Load).
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.PollInterval)
	return d
}

// ApplyTimeout parsea Sync.ApplyTimeout.
func (c *Config) ApplyTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sync.ApplyTimeout)
	return d
}

// LinkTTL parsea JWT.LinkTTL.
func (c *Config) LinkTTL() time.Duration {
	d, _ := time.ParseDuration(c.JWT.LinkTTL)
	return d
}

// SessionTTL parsea JWT.SessionTTL.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.JWT.SessionTTL)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Server.AdminAPIKey = v
	}

	// SYNC
	if v, ok := getEnvInt("SYNC_BATCH_SIZE"); ok {
		c.Sync.BatchSize = v
	}
	if v, ok := getEnvStr("SYNC_POLL_INTERVAL"); ok {
		c.Sync.PollInterval = v
	}
	if v, ok := getEnvInt("SYNC_FAILED_SKIP_AFTER"); ok {
		c.Sync.FailedSkipAfter = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.JWT.Secret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvBool("EMAIL_ENABLED"); ok {
		c.Email.Enabled = v
	}
	if v, ok := getEnvStr("EMAIL_BASE_URL"); ok {
		c.Email.BaseURL = v
	}
	if v, ok := getEnvCSV("EMAIL_NOTIFY_TO"); ok {
		c.Email.NotifyTo = v
	}
}
