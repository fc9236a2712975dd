package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// Uploader is the subset of Client the archiver needs.
type Uploader interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// ArchiverConfig controls what gets archived and how often.
type ArchiverConfig struct {
	// RetentionDays is the age threshold: rows older than this many days
	// are archived. Defaults to 30.
	RetentionDays int

	// Interval between archive runs. Defaults to 24h.
	Interval time.Duration

	// Prefix is the key prefix inside the bucket. Defaults to "archive".
	Prefix string
}

// Archiver periodically writes settled trades and audit entries older than
// the retention window to object storage as JSON Lines. Archival is
// additive: rows are copied out, never deleted from postgres.
type Archiver struct {
	trades   domain.TradeStore
	audit    domain.AuditStore
	uploader Uploader
	cfg      ArchiverConfig
	logger   *slog.Logger
}

// NewArchiver creates an Archiver with defaults applied.
func NewArchiver(trades domain.TradeStore, audit domain.AuditStore, uploader Uploader, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "archive"
	}
	return &Archiver{
		trades:   trades,
		audit:    audit,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run archives once immediately, then on every interval tick until the
// context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.ArchiveOnce(ctx, time.Now().UTC()); err != nil {
		a.logger.Error("archiver: run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx, time.Now().UTC()); err != nil {
				a.logger.Error("archiver: run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveOnce uploads one trades object and one audit object covering rows
// older than the retention cutoff. Empty result sets upload nothing.
func (a *Archiver) ArchiveOnce(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -a.cfg.RetentionDays)

	trades, err := a.trades.ListSettledBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: list settled trades: %w", err)
	}
	if len(trades) > 0 {
		rows := make([]any, len(trades))
		for i, t := range trades {
			rows[i] = t
		}
		key := a.objectKey("trades", now)
		if err := a.uploadJSONL(ctx, key, rows); err != nil {
			return err
		}
		a.logger.Info("archiver: trades archived",
			slog.Int("count", len(trades)),
			slog.String("key", key),
		)
	}

	entries, err := a.audit.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: list audit entries: %w", err)
	}
	if len(entries) > 0 {
		rows := make([]any, len(entries))
		for i, e := range entries {
			rows[i] = e
		}
		key := a.objectKey("audit", now)
		if err := a.uploadJSONL(ctx, key, rows); err != nil {
			return err
		}
		a.logger.Info("archiver: audit entries archived",
			slog.Int("count", len(entries)),
			slog.String("key", key),
		)
	}

	return nil
}

// objectKey builds "<prefix>/<kind>/<timestamp>.jsonl".
func (a *Archiver) objectKey(kind string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.cfg.Prefix, kind, now.Format("20060102T150405Z"))
}

// uploadJSONL encodes rows as JSON Lines and uploads the object.
func (a *Archiver) uploadJSONL(ctx context.Context, key string, rows []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("archiver: encode row: %w", err)
		}
	}
	if err := a.uploader.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("archiver: upload %s: %w", key, err)
	}
	return nil
}
