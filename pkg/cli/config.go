package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to Google Sheets",
	Long: `auth runs the browser OAuth flow with the client secrets file
(~/.config/taskboard/credentials.json unless sheets.client_secrets is set) and
stores the token for later runs. Any existing token is replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := config.GetXdgHome()
		if err != nil {
			return err
		}
		tokenFile := filepath.Join(dir, auth.TokenFile)
		if err := os.Remove(tokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("could not delete token file %s: %w. Please delete it manually", tokenFile, err)
		}
		if err := auth.Authorize(cmd.Context(), cfg.Sheets.ClientSecrets); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Authentication successful! Token saved to %s\n", tokenFile)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		for _, secret := range []*string{&shown.Sheets.APIKey, &shown.Records.JWTSecret, &shown.Records.AccessToken} {
			if *secret != "" {
				*secret = "********"
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(shown)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file. Keys: backend, spreadsheet_id,
sheet_name, has_header, credentials_file, client_secrets, api_key, db_driver,
db_dsn, jwt_secret, access_token, refresh_interval, fetch_timeout, listen,
log_file, log_level.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		if err := setValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveFile(path, cfg); err != nil {
			return fmt.Errorf("error saving config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
}

func setValue(cfg *config.Config, key, value string) error {
	strs := map[string]*string{
		"backend":          &cfg.Backend,
		"spreadsheet_id":   &cfg.Sheets.SpreadsheetID,
		"sheet_name":       &cfg.Sheets.SheetName,
		"credentials_file": &cfg.Sheets.CredentialsFile,
		"client_secrets":   &cfg.Sheets.ClientSecrets,
		"api_key":          &cfg.Sheets.APIKey,
		"db_driver":        &cfg.Records.Driver,
		"db_dsn":           &cfg.Records.DSN,
		"jwt_secret":       &cfg.Records.JWTSecret,
		"access_token":     &cfg.Records.AccessToken,
		"listen":           &cfg.Listen,
		"log_file":         &cfg.LogFile,
		"log_level":        &cfg.LogLevel,
	}
	if dst, ok := strs[key]; ok {
		*dst = value
		return nil
	}
	switch key {
	case "has_header":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Sheets.HasHeader = b
	case "refresh_interval", "fetch_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		if key == "refresh_interval" {
			cfg.RefreshInterval = config.Duration(d)
		} else {
			cfg.FetchTimeout = config.Duration(d)
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
