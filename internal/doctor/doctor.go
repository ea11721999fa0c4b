// Package doctor validates courier configuration before the service starts.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/message"
	"github.com/mattjoyce/courier/internal/storage"
)

// MinSecretLength is the shortest webhook secret accepted without a warning.
const MinSecretLength = 32

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration without opening the listener.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a configuration produced by config.Read.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all static checks and returns a result. Unlike
// config.Validate it keeps going after the first problem.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRequired(r)
	d.validateListen(r)
	d.validateLogging(r)
	d.validateDatabase(r)
	d.validateLimits(r)
	d.warnWeakSecret(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe opens the configured store, pings it and closes it again.
func (d *Doctor) Probe(ctx context.Context) error {
	store, err := storage.Open(ctx, d.cfg.DatabaseURL, storage.Options{MaxConns: d.cfg.DatabaseMaxConns})
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return fmt.Errorf("database is held by a running courier: %w", err)
		}
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRequired checks the settings without which courier refuses to start.
func (d *Doctor) validateRequired(r *Result) {
	if err := config.RequireValue("WEBHOOK_SECRET", d.cfg.WebhookSecret); err != nil {
		d.addError(r, "required", "webhook_secret", err.Error())
	}
	if err := config.RequireValue("DATABASE_URL", d.cfg.DatabaseURL); err != nil {
		d.addError(r, "required", "database_url", err.Error())
	}
}

func (d *Doctor) validateListen(r *Result) {
	_, port, err := net.SplitHostPort(d.cfg.Listen)
	if err != nil {
		d.addError(r, "service", "listen", fmt.Sprintf("listen address %q: %v", d.cfg.Listen, err))
		return
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		d.addError(r, "service", "listen", fmt.Sprintf("listen port %q is not a valid port number", port))
	}
}

func (d *Doctor) validateLogging(r *Result) {
	if !config.ValidLogLevel(d.cfg.LogLevel) {
		d.addError(r, "logging", "log_level",
			fmt.Sprintf("log_level must be one of: debug, info, warn, error (got %q)", d.cfg.LogLevel))
	}
	if d.cfg.LogFormat != "json" && d.cfg.LogFormat != "text" {
		d.addError(r, "logging", "log_format",
			fmt.Sprintf("log_format must be json or text (got %q)", d.cfg.LogFormat))
	}
}

// validateDatabase checks the URL scheme and, for SQLite, where the file lives.
func (d *Doctor) validateDatabase(r *Result) {
	if strings.TrimSpace(d.cfg.DatabaseURL) == "" {
		return
	}
	target, err := storage.ParseDatabaseURL(d.cfg.DatabaseURL)
	if err != nil {
		d.addError(r, "database", "database_url", err.Error())
		return
	}

	switch target.Driver {
	case storage.DriverPostgres:
		if d.cfg.DatabaseMaxConns <= 0 {
			d.addError(r, "database", "database_max_conns", "database_max_conns must be positive")
		}
	case storage.DriverSQLite:
		if err := storage.ValidateSQLiteFilesystem(target.DSN); err != nil {
			d.addError(r, "database", "database_url", err.Error())
			return
		}
		dir := filepath.Dir(target.DSN)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			d.addWarning(r, "database", "database_url",
				fmt.Sprintf("directory %q does not exist yet; courier creates it on start", dir))
		}
	}
}

func (d *Doctor) validateLimits(r *Result) {
	if d.cfg.MaxBodySize <= 0 {
		d.addError(r, "limits", "max_body_size", "max_body_size must be positive")
	} else if d.cfg.MaxBodySize < 4*message.MaxTextLen {
		// A 4096-character text can take up to four bytes per character.
		d.addWarning(r, "limits", "max_body_size",
			fmt.Sprintf("max_body_size %d may reject payloads with long text", d.cfg.MaxBodySize))
	}

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"insert_timeout", d.cfg.InsertTimeout},
		{"read_timeout", d.cfg.ReadTimeout},
		{"write_timeout", d.cfg.WriteTimeout},
		{"shutdown_timeout", d.cfg.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			d.addError(r, "limits", t.field, t.field+" must be positive")
		}
	}
	if d.cfg.WriteTimeout > 0 && d.cfg.InsertTimeout > d.cfg.WriteTimeout {
		d.addWarning(r, "limits", "insert_timeout",
			"insert_timeout exceeds write_timeout; slow inserts will lose their response")
	}
}

func (d *Doctor) warnWeakSecret(r *Result) {
	if d.cfg.WebhookSecret == "" {
		return
	}
	if len(d.cfg.WebhookSecret) < MinSecretLength {
		d.addWarning(r, "secret", "webhook_secret",
			fmt.Sprintf("webhook secret is %d bytes; use at least %d", len(d.cfg.WebhookSecret), MinSecretLength))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
