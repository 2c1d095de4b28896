package s3export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CoinFox/app/models"
)

// ObjectWriter stores a finished export.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// LedgerSource reads ledger entries in [from, to).
type LedgerSource interface {
	ListLedgerEntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
}

// Exporter writes one JSON line per ledger entry and day.
type Exporter struct {
	cfg    *Config
	source LedgerSource
	writer ObjectWriter
}

func NewExporter(cfg *Config, source LedgerSource, writer ObjectWriter) *Exporter {
	return &Exporter{cfg: cfg, source: source, writer: writer}
}

// ExportResult describes one uploaded day.
type ExportResult struct {
	Key     string
	Entries int
	Bytes   int
}

// ExportDay uploads the ledger of the UTC day containing day. Re-running
// overwrites the object with the same content.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) (*ExportResult, error) {
	d := day.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	entries, err := e.source.ListLedgerEntriesBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("read ledger for %s: %w", from.Format("2006-01-02"), err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode ledger entry %s: %w", entries[i].UUID, err)
		}
	}

	key := e.cfg.ObjectKey(from)
	if err := e.writer.PutObject(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return nil, err
	}

	log.Infof("[S3Export] exported %d ledger entries to %s", len(entries), key)
	return &ExportResult{Key: key, Entries: len(entries), Bytes: buf.Len()}, nil
}
