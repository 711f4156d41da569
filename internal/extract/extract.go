// Package extract implements the Extractor (spec §4.3): validating the raw
// document shape FileReader produced and populating Context metrics before
// handing the document to the Transformer.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/fileio"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Extractor validates a FileReader Document and exposes it as a RawExport.
type Extractor struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "extractor").Logger()}
}

// Extract reads path, validates its shape, optionally persists the raw
// bytes to <output_dir>/raw_data.json, and populates ctx's metrics.
func (e *Extractor) Extract(ctx *etlcontext.Context, path string) (*model.RawExport, error) {
	doc, err := fileio.Read(path)
	if err != nil {
		return nil, err
	}
	if err := validate(doc.Export); err != nil {
		return nil, err
	}

	if ctx.OutputDir != "" {
		if err := persistRawBytes(ctx.OutputDir, doc.Raw); err != nil {
			e.log.Warn().Err(err).Msg("failed to persist raw_data.json")
		}
	}

	ctx.Metrics.ConversationCount = len(doc.Export.Conversations)
	ctx.Metrics.BytesRead += int64(len(doc.Raw))

	return &doc.Export, nil
}

// ExtractStream validates only the header eagerly (full-document validation
// of conversations happens as they are consumed) and returns the header
// plus a conversation stream for the streaming pipeline variant.
func (e *Extractor) ExtractStream(ctx *etlcontext.Context, path string) (fileio.Header, *fileio.ConversationStream, error) {
	hdr, stream, err := fileio.Stream(path)
	if err != nil {
		return fileio.Header{}, nil, err
	}
	if hdr.UserID == "" {
		stream.Close()
		return fileio.Header{}, nil, etlerrors.NewExtractionError(etlcontext.PhaseExtract, "missing userId in streamed export", nil)
	}
	if _, err := time.Parse(time.RFC3339, hdr.ExportDate); err != nil {
		stream.Close()
		return fileio.Header{}, nil, etlerrors.NewExtractionError(etlcontext.PhaseExtract, "exportDate is not ISO-8601", err)
	}
	return hdr, stream, nil
}

func validate(export model.RawExport) error {
	if export.UserID == "" {
		return etlerrors.NewExtractionError(etlcontext.PhaseExtract, "userId is required and non-empty", nil)
	}
	if _, err := time.Parse(time.RFC3339, export.ExportDate); err != nil {
		return etlerrors.NewExtractionError(etlcontext.PhaseExtract, "exportDate must be ISO-8601", err)
	}
	if export.Conversations == nil {
		return etlerrors.NewExtractionError(etlcontext.PhaseExtract, "conversations must be an array", nil)
	}
	return nil
}

func persistRawBytes(outputDir string, raw []byte) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, "raw_data.json")
	return os.WriteFile(path, raw, 0o644)
}
