// Package config loads settings for the CLI and the stub backend from an
// optional YAML file and the environment. Environment variables win.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// EnvFile names the variable holding the config file path.
const EnvFile = "TASKS_CONFIG"

// Storage backends understood by the stub.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageTables = "tables"
)

// Auth modes understood by the stub.
const (
	AuthNone  = "none"
	AuthHS256 = "hs256"
	AuthJWKS  = "jwks"
)

type Config struct {
	Client Client `yaml:"client"`
	Server Server `yaml:"server"`
	Debug  bool   `yaml:"debug"`
}

type Client struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	TokenSecret   string        `yaml:"token_secret"`
	TokenSubject  string        `yaml:"token_subject"`
	Timeout       time.Duration `yaml:"timeout"`
	PageSize      int           `yaml:"page_size"`
	GzipThreshold int           `yaml:"gzip_threshold"`
	CacheMaxAge   time.Duration `yaml:"cache_max_age"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	Storage  string `yaml:"storage"`
	PageSize int    `yaml:"page_size"`

	SQLitePath string `yaml:"sqlite_path"`

	TablesConnection string `yaml:"tables_connection"`
	TasksTable       string `yaml:"tasks_table"`
	ProjectsTable    string `yaml:"projects_table"`
	EventsQueue      string `yaml:"events_queue"`

	RedisURL   string        `yaml:"redis_url"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	DeduperTTL time.Duration `yaml:"deduper_ttl"`

	Auth Auth `yaml:"auth"`
}

type Auth struct {
	Mode     string        `yaml:"mode"`
	Secret   string        `yaml:"secret"`
	JWKSURL  string        `yaml:"jwks_url"`
	Audience string        `yaml:"audience"`
	Issuer   string        `yaml:"issuer"`
	KeyTTL   time.Duration `yaml:"key_ttl"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Client: Client{
			BaseURL:      "http://localhost:8080",
			TokenSubject: "local-user",
			Timeout:      30 * time.Second,
			PageSize:     50,
		},
		Server: Server{
			Addr:          ":8080",
			Storage:       StorageMemory,
			PageSize:      30,
			SQLitePath:    "tasks.db",
			TasksTable:    "Tasks",
			ProjectsTable: "Projects",
			CacheTTL:      5 * time.Minute,
			DeduperTTL:    24 * time.Hour,
			Auth: Auth{
				Mode:   AuthNone,
				KeyTTL: 15 * time.Minute,
			},
		},
	}
}

// Load reads path (or $TASKS_CONFIG when path is empty), then applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err, perr error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}

	if v, ok := os.LookupEnv("DEBUG"); ok && v != "" {
		dbg, derr := strconv.ParseBool(v)
		set(wrapEnv("DEBUG", derr))
		c.Debug = dbg
	}

	cl := &c.Client
	cl.BaseURL = envString("TASKS_API_URL", cl.BaseURL)
	cl.Token = envString("TASKS_TOKEN", cl.Token)
	cl.TokenSecret = envString("TASKS_TOKEN_SECRET", cl.TokenSecret)
	cl.TokenSubject = envString("TASKS_TOKEN_SUBJECT", cl.TokenSubject)
	cl.Timeout, perr = envDur("TASKS_TIMEOUT", cl.Timeout)
	set(perr)
	cl.PageSize, perr = envInt("TASKS_PAGE_SIZE", cl.PageSize)
	set(perr)
	cl.GzipThreshold, perr = envInt("TASKS_GZIP_THRESHOLD", cl.GzipThreshold)
	set(perr)
	cl.CacheMaxAge, perr = envDur("TASKS_CACHE_MAX_AGE", cl.CacheMaxAge)
	set(perr)

	sv := &c.Server
	sv.Addr = envString("LISTEN_ADDR", sv.Addr)
	if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		sv.Addr = ":" + port
	}
	sv.Storage = strings.ToLower(envString("STORAGE_BACKEND", sv.Storage))
	sv.PageSize, perr = envInt("SERVER_PAGE_SIZE", sv.PageSize)
	set(perr)
	sv.SQLitePath = envString("SQLITE_PATH", sv.SQLitePath)
	sv.TablesConnection = envString("STORAGE_CONNECTION_STRING", sv.TablesConnection)
	sv.TasksTable = envString("TASKS_TABLE", sv.TasksTable)
	sv.ProjectsTable = envString("PROJECTS_TABLE", sv.ProjectsTable)
	sv.EventsQueue = envString("TASK_EVENTS_QUEUE", sv.EventsQueue)
	sv.RedisURL = envString("REDIS_CONNECTION_STRING", sv.RedisURL)
	sv.CacheTTL, perr = envDur("TASKS_CACHE_TTL", sv.CacheTTL)
	set(perr)
	sv.DeduperTTL, perr = envDur("DEDUPER_TTL", sv.DeduperTTL)
	set(perr)

	a := &sv.Auth
	a.Mode = strings.ToLower(envString("AUTH_MODE", a.Mode))
	a.Secret = envString("AUTH_SHARED_SECRET", a.Secret)
	a.JWKSURL = envString("AUTH_JWKS_URL", a.JWKSURL)
	a.Audience = envString("AUTH_AUDIENCE", a.Audience)
	a.Issuer = envString("AUTH_ISSUER", a.Issuer)
	a.KeyTTL, perr = envDur("JWKS_CACHE_TTL", a.KeyTTL)
	set(perr)

	return err
}

// ValidateClient checks the settings the CLI needs.
func (c Config) ValidateClient() error {
	if strings.TrimSpace(c.Client.BaseURL) == "" {
		return errors.New("client base url is required")
	}
	if c.Client.PageSize < 0 || c.Client.GzipThreshold < 0 {
		return errors.New("client page size and gzip threshold must not be negative")
	}
	return nil
}

// ValidateServer checks the settings the stub backend needs.
func (c Config) ValidateServer() error {
	sv := c.Server
	if sv.PageSize <= 0 {
		return errors.New("server page size must be greater than zero")
	}
	switch sv.Storage {
	case StorageMemory:
	case StorageSQLite:
		if sv.SQLitePath == "" {
			return errors.New("sqlite storage needs a path")
		}
	case StorageTables:
		if sv.TablesConnection == "" || sv.TasksTable == "" || sv.ProjectsTable == "" {
			return errors.New("missing storage config")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", sv.Storage)
	}
	if sv.EventsQueue != "" && sv.TablesConnection == "" {
		return errors.New("events queue needs STORAGE_CONNECTION_STRING")
	}
	switch sv.Auth.Mode {
	case AuthNone, "":
	case AuthHS256:
		if sv.Auth.Secret == "" {
			return errors.New("AUTH_SHARED_SECRET must be set when AUTH_MODE=hs256")
		}
	case AuthJWKS:
		if sv.Auth.JWKSURL == "" || sv.Auth.Audience == "" {
			return errors.New("missing JWKS config")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE value %q", sv.Auth.Mode)
	}
	return nil
}

// RedisOptions parses either a redis:// URL or the "host:port,password=...,
// ssl=true" connection string form.
func RedisOptions(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, wrapEnv(key, err)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, wrapEnv(key, err)
	}
	if d < 0 {
		return def, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", key, err)
}
