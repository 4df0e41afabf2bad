package report

import (
	"bytes"
	"context"
	"fmt"

	"decisiondesk-backend/storage"

	"go.uber.org/zap"
)

// Export describes a persisted rendering
type Export struct {
	Key         string `json:"key"`
	Format      Format `json:"format"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Exporter renders documents and saves them to storage
type Exporter struct {
	store  storage.Storage
	logger *zap.Logger
}

// ExporterOption configures an Exporter
type ExporterOption func(*Exporter)

// ExporterWithLogger sets the exporter logger
func ExporterWithLogger(logger *zap.Logger) ExporterOption {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// NewExporter creates an exporter writing into store
func NewExporter(store storage.Storage, opts ...ExporterOption) *Exporter {
	e := &Exporter{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export renders doc in format and saves it under the decision's export key
func (e *Exporter) Export(ctx context.Context, doc Document, format Format) (Export, error) {
	data, err := Render(doc, format)
	if err != nil {
		return Export{}, err
	}

	key := storage.ExportKey(doc.DecisionID, format.Extension())
	if err := e.store.Save(ctx, key, format.ContentType(), bytes.NewReader(data)); err != nil {
		return Export{}, fmt.Errorf("failed to save %s export: %w", format, err)
	}

	e.logger.Info("Report exported",
		zap.String("decision_id", doc.DecisionID.String()),
		zap.String("format", string(format)),
		zap.String("key", key),
		zap.Int("size", len(data)))

	return Export{
		Key:         key,
		Format:      format,
		ContentType: format.ContentType(),
		Size:        len(data),
	}, nil
}
