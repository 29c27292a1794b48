// Package config loads the settings a flow context is built from.
// Priority: env vars > settings file > defaults.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const schemaURL = "https://flowctx.dev/schemas/settings.json"

//go:embed schema.json
var settingsSchemaJSON string

// SolanaClient selects the RPC endpoint.
type SolanaClient struct {
	URL        string `json:"url" yaml:"url" validate:"required,url"`
	Commitment string `json:"commitment" yaml:"commitment" validate:"oneof=processed confirmed finalized"`
}

// Endpoints are the external services a flow talks to.
type Endpoints struct {
	FlowServer      string `json:"flow_server" yaml:"flow_server" validate:"omitempty,url"`
	Supabase        string `json:"supabase" yaml:"supabase" validate:"omitempty,url"`
	SupabaseAnonKey string `json:"supabase_anon_key" yaml:"supabase_anon_key"`
}

// Config is the context configuration.
type Config struct {
	SolanaClient SolanaClient      `json:"solana_client" yaml:"solana_client"`
	Environment  map[string]string `json:"environment" yaml:"environment"`
	Endpoints    Endpoints         `json:"endpoints" yaml:"endpoints"`
	LogLevel     string            `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	DBPath       string            `json:"db_path" yaml:"db_path"`
	RedisAddr    string            `json:"redis_addr" yaml:"redis_addr" validate:"omitempty,hostname_port"`
	// AuthPolicy is a CEL expression gating token issuance; empty allows all.
	AuthPolicy    string `json:"auth_policy" yaml:"auth_policy"`
	SignerTimeout string `json:"signer_timeout" yaml:"signer_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SolanaClient: SolanaClient{
			URL:        "https://api.devnet.solana.com",
			Commitment: "confirmed",
		},
		Environment:   map[string]string{},
		Endpoints:     Endpoints{FlowServer: "http://localhost:8080"},
		LogLevel:      "info",
		DBPath:        filepath.Join(Dir(), "flowctx.db"),
		SignerTimeout: "60s",
	}
}

// Dir is the per-user directory holding the settings file and database.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowctx"
	}
	return filepath.Join(home, ".flowctx")
}

// SettingsPath is the default settings file location.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.yaml")
}

// Load layers the settings file at path and FLOWCTX_* env vars over the
// defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read settings: %w", err)
		default:
			if err := decodeSettings(path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envOverrides = []struct {
	name string
	set  func(*Config, string)
}{
	{"FLOWCTX_SOLANA_URL", func(c *Config, v string) { c.SolanaClient.URL = v }},
	{"FLOWCTX_SOLANA_COMMITMENT", func(c *Config, v string) { c.SolanaClient.Commitment = v }},
	{"FLOWCTX_SUPABASE_URL", func(c *Config, v string) { c.Endpoints.Supabase = v }},
	{"FLOWCTX_SUPABASE_ANON_KEY", func(c *Config, v string) { c.Endpoints.SupabaseAnonKey = v }},
	{"FLOWCTX_FLOW_SERVER_URL", func(c *Config, v string) { c.Endpoints.FlowServer = v }},
	{"FLOWCTX_LOG_LEVEL", func(c *Config, v string) { c.LogLevel = v }},
	{"FLOWCTX_DB_PATH", func(c *Config, v string) { c.DBPath = v }},
	{"FLOWCTX_REDIS_ADDR", func(c *Config, v string) { c.RedisAddr = v }},
	{"FLOWCTX_AUTH_POLICY", func(c *Config, v string) { c.AuthPolicy = v }},
	{"FLOWCTX_SIGNER_TIMEOUT", func(c *Config, v string) { c.SignerTimeout = v }},
}

func applyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.set(cfg, v)
		}
	}
}

// decodeSettings checks the file against the settings schema and decodes it
// over cfg. YAML files are converted to JSON first so both formats share one
// schema.
func decodeSettings(path string, data []byte, cfg *Config) error {
	jsonData := data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse settings %s: %w", path, err)
		}
		if doc == nil {
			return nil
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("convert settings %s: %w", path, err)
		}
		jsonData = b
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	sch, err := settingsSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("settings %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return fmt.Errorf("decode settings %s: %w", path, err)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func settingsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(settingsSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal settings schema: %w", err)
			return
		}
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add settings schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			fe := ves[0]
			return fmt.Errorf("config: %s failed validation for tag '%s'", fieldName(fe), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.SignatureTimeout(); err != nil {
		return err
	}
	return nil
}

// SignatureTimeout parses SignerTimeout. Empty means zero.
func (c Config) SignatureTimeout() (time.Duration, error) {
	if c.SignerTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.SignerTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: signer_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: signer_timeout must not be negative")
	}
	return d, nil
}

func fieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, ".")
}
