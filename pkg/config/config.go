package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	xdgAppName = "taskboard"
	configFile = "config.json"

	BackendSheets  = "sheets"
	BackendRecords = "records"

	DefaultRefreshInterval = 30 * time.Second
	DefaultFetchTimeout    = 20 * time.Second
	DefaultListen          = "127.0.0.1:8080"
)

// Duration is a time.Duration written as "30s" in the config file.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %s", b)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type SheetsConfig struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	// SheetName empty means the spreadsheet's first sheet.
	SheetName string `json:"sheet_name,omitempty"`
	HasHeader bool   `json:"has_header"`
	// APIKey gives read-only access to public spreadsheets.
	APIKey string `json:"api_key,omitempty"`
	// CredentialsFile is a service account key. When empty the installed-app
	// OAuth flow is used with ClientSecrets.
	CredentialsFile string `json:"credentials_file,omitempty"`
	ClientSecrets   string `json:"client_secrets,omitempty"`
}

type RecordsConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// AccessToken is the signed-in user's token; its subject owns new tasks.
	AccessToken string `json:"access_token,omitempty"`
	JWTSecret   string `json:"jwt_secret,omitempty"`
}

type Config struct {
	Backend         string        `json:"backend"`
	Sheets          SheetsConfig  `json:"sheets"`
	Records         RecordsConfig `json:"records"`
	RefreshInterval Duration      `json:"refresh_interval"`
	FetchTimeout    Duration      `json:"fetch_timeout"`
	LogFile         string        `json:"log_file,omitempty"`
	LogLevel        string        `json:"log_level,omitempty"`
	Listen          string        `json:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir, _ := GetXdgHome()
	return &Config{
		Backend: BackendRecords,
		Sheets:  SheetsConfig{HasHeader: true},
		Records: RecordsConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "tasks.db"),
		},
		RefreshInterval: Duration(DefaultRefreshInterval),
		FetchTimeout:    Duration(DefaultFetchTimeout),
		LogLevel:        "info",
		Listen:          DefaultListen,
	}
}

func GetXdgHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config file, then applies .env and TASKBOARD_* overrides.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	// A missing .env is fine.
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("TASKBOARD_BACKEND", &c.Backend)
	str("TASKBOARD_SPREADSHEET_ID", &c.Sheets.SpreadsheetID)
	str("TASKBOARD_SHEET_NAME", &c.Sheets.SheetName)
	str("TASKBOARD_GOOGLE_API_KEY", &c.Sheets.APIKey)
	str("TASKBOARD_GOOGLE_CREDENTIALS", &c.Sheets.CredentialsFile)
	str("TASKBOARD_GOOGLE_CLIENT_SECRETS", &c.Sheets.ClientSecrets)
	str("TASKBOARD_DB_DRIVER", &c.Records.Driver)
	str("TASKBOARD_DB_DSN", &c.Records.DSN)
	str("TASKBOARD_ACCESS_TOKEN", &c.Records.AccessToken)
	str("TASKBOARD_JWT_SECRET", &c.Records.JWTSecret)
	str("TASKBOARD_LOG_FILE", &c.LogFile)
	str("TASKBOARD_LOG_LEVEL", &c.LogLevel)
	str("TASKBOARD_LISTEN", &c.Listen)

	if v := getenv("TASKBOARD_SHEET_HAS_HEADER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TASKBOARD_SHEET_HAS_HEADER: %w", err)
		}
		c.Sheets.HasHeader = b
	}
	for key, dst := range map[string]*Duration{
		"TASKBOARD_REFRESH_INTERVAL": &c.RefreshInterval,
		"TASKBOARD_FETCH_TIMEOUT":    &c.FetchTimeout,
	} {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

// Validate checks the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSheets:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets backend requires a spreadsheet id")
		}
	case BackendRecords:
		if c.Records.DSN == "" {
			return fmt.Errorf("records backend requires a database dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendSheets, BackendRecords)
	}
	if c.RefreshInterval < 0 || c.FetchTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}
