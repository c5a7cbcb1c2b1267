package tracker

import (
	"context"
	"fmt"
	"os/user"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/records"
	"github.com/harrisonrobin/taskboard/pkg/sheets"
)

// OpenBackend connects to the backend selected by cfg.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSheets:
		opts, err := auth.ClientOptions(ctx, cfg.Sheets)
		if err != nil {
			return nil, err
		}
		client, err := sheets.Open(ctx, sheets.Options{
			SpreadsheetID: cfg.Sheets.SpreadsheetID,
			SheetName:     cfg.Sheets.SheetName,
			HasHeader:     cfg.Sheets.HasHeader,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendRecords:
		store, err := records.Open(ctx, records.Options{
			Driver:    cfg.Records.Driver,
			DSN:       cfg.Records.DSN,
			Principal: principal(cfg.Records),
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// principal verifies access tokens when a secret is configured. Without one
// the store is treated as single-user and tasks belong to the OS account.
func principal(cfg config.RecordsConfig) auth.Principal {
	if cfg.JWTSecret != "" {
		return auth.NewJWTPrincipal(cfg.JWTSecret, cfg.AccessToken)
	}
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return auth.Static("local")
	}
	return auth.Static(u.Username)
}

// Open builds the backend from cfg and wraps it in a Tracker.
func Open(ctx context.Context, cfg *config.Config, n notify.Notifier) (*Tracker, error) {
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	interval := cfg.RefreshInterval.Std()
	if interval == 0 {
		interval = -1
	}
	return New(b, Options{
		RefreshInterval: interval,
		FetchTimeout:    cfg.FetchTimeout.Std(),
		Notifier:        n,
	}), nil
}
