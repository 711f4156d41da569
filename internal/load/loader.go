// Package load implements the Loader (spec §4.6): batched inserts with two
// insertion strategies, at-most-once archive registration, and the
// file-path normalization rule driven by the archives.file_path CHECK
// constraint.
package load

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/database"
	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Loader writes a TransformedExport to PostgreSQL.
type Loader struct {
	db          *database.DB
	databaseURL string
	batchSize   int
	log         zerolog.Logger
}

// New wraps an already-connected database handle. Schema creation is the
// caller's responsibility (see cmd/skype-etl, which calls InitSchema once
// at startup) — the Loader itself only writes data rows. databaseURL is
// kept so the Loader can reconnect per the backoff policy (spec §4.6) if
// the connection is lost mid-run.
func New(db *database.DB, databaseURL string, batchSize int, log zerolog.Logger) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Loader{db: db, databaseURL: databaseURL, batchSize: batchSize, log: log.With().Str("component", "loader").Logger()}
}

// withReconnect runs fn against the current connection. If fn fails with a
// connection-class error, it reconnects via the exponential backoff policy
// and retries fn exactly once more before escalating as a fatal LoadError.
func (l *Loader) withReconnect(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !isConnectionError(err) {
		return err
	}
	l.log.Warn().Err(err).Str("op", op).Msg("database connection lost, reconnecting")
	db, connErr := database.ConnectWithBackoff(ctx, l.databaseURL, l.log)
	if connErr != nil {
		return etlerrors.NewLoadError(etlcontext.PhaseLoad, op, connErr, true)
	}
	l.db = db
	if err := fn(); err != nil {
		return etlerrors.NewLoadError(etlcontext.PhaseLoad, op, err, true)
	}
	return nil
}

// isConnectionError reports whether err occurred because the connection
// itself was lost, as opposed to a query/constraint failure — the former is
// worth reconnecting for, the latter isn't. It walks the Unwrap chain since
// the error reaching a caller is usually wrapped in a *etlerrors.PipelineError.
func isConnectionError(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if pgconn.SafeToRetry(e) {
			return true
		}
		msg := e.Error()
		for _, substr := range []string{"conn closed", "connection reset", "broken pipe", "unexpected EOF", "i/o timeout", "conn busy"} {
			if strings.Contains(msg, substr) {
				return true
			}
		}
	}
	return false
}

// Load writes an entire non-streaming run's data: the archive first, then,
// for each conversation in input order, its conversation row, messages and
// side-table rows in one transaction.
func (l *Loader) Load(ctx context.Context, runCtx *etlcontext.Context, raw *model.RawExport, transformed *model.TransformedExport) (int64, error) {
	archiveID, err := l.registerArchive(ctx, runCtx, raw, transformed)
	if err != nil {
		return 0, err
	}

	for _, convID := range transformed.ConversationOrder {
		tc := transformed.Conversations[convID]
		if err := l.loadConversation(ctx, archiveID, tc); err != nil {
			return archiveID, err
		}
	}

	return archiveID, nil
}

// LoadStreamingBatch writes one conversation under an already-registered
// archive, used by the streaming pipeline variant.
func (l *Loader) LoadStreamingBatch(ctx context.Context, archiveID int64, tc *model.TransformedConversation) error {
	return l.loadConversation(ctx, archiveID, tc)
}

// RegisterArchiveUpfront performs the at-most-once archive registration
// ahead of processing any conversations, as the streaming variant requires.
func (l *Loader) RegisterArchiveUpfront(ctx context.Context, runCtx *etlcontext.Context, userID, exportDate string, conversationCount int) (int64, error) {
	filePath, blob, err := normalizeFilePath(runCtx, l.log)
	if err != nil {
		return 0, err
	}
	var raw []byte
	if runCtx.Attachment.StoreRawBlob {
		raw = blob
	}
	row := &database.ArchiveRow{
		UserID:            userID,
		ExportDate:        exportDate,
		FilePath:          filePath,
		RawDataBlob:       raw,
		ConversationCount: conversationCount,
	}
	var id int64
	err = l.withReconnect(ctx, "upsert archive", func() error {
		var innerErr error
		id, innerErr = l.db.UpsertArchive(ctx, l.db.Pool, row)
		return innerErr
	})
	if err != nil {
		if etlerrors.IsLoad(err) {
			return 0, err
		}
		return 0, etlerrors.NewLoadError(etlcontext.PhaseLoad, "upsert archive", err, true)
	}
	return id, nil
}

func (l *Loader) registerArchive(ctx context.Context, runCtx *etlcontext.Context, raw *model.RawExport, transformed *model.TransformedExport) (int64, error) {
	filePath, blob, err := normalizeFilePath(runCtx, l.log)
	if err != nil {
		return 0, err
	}
	var rawBlob []byte
	if runCtx.Attachment.StoreRawBlob {
		rawBlob = blob
	}
	row := &database.ArchiveRow{
		UserID:            raw.UserID,
		ExportDate:        raw.ExportDate,
		FilePath:          filePath,
		RawDataBlob:       rawBlob,
		ConversationCount: transformed.Metadata.ConversationCount,
	}
	var id int64
	err = l.withReconnect(ctx, "upsert archive", func() error {
		var innerErr error
		id, innerErr = l.db.UpsertArchive(ctx, l.db.Pool, row)
		return innerErr
	})
	if err != nil {
		if etlerrors.IsLoad(err) {
			return 0, err
		}
		return 0, etlerrors.NewLoadError(etlcontext.PhaseLoad, "upsert archive", err, true)
	}
	return id, nil
}

// normalizeFilePath applies the three-case path normalization rule (spec
// §4.6). It also returns the on-disk contents of the original path when
// available, for callers that want to retain the raw blob.
func normalizeFilePath(runCtx *etlcontext.Context, log zerolog.Logger) (string, []byte, error) {
	path := runCtx.FilePath

	switch {
	case path != "" && strings.HasSuffix(strings.ToLower(path), ".tar"):
		return path, readIfExists(path), nil

	case path != "":
		ext := filepath.Ext(path)
		var normalized string
		if ext == "" {
			normalized = path + ".tar"
		} else {
			normalized = strings.TrimSuffix(path, ext) + ".tar"
		}
		log.Warn().Str("original_path", path).Str("normalized_path", normalized).Msg("Modified file path to satisfy .tar storage contract")
		return normalized, readIfExists(path), nil

	default:
		synthesized := fmt.Sprintf("unknown_export_%s.tar", time.Now().Format("20060102_150405"))
		return synthesized, nil, nil
	}
}

func readIfExists(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// loadConversation writes one conversation and all of its messages (plus
// side-table rows) as a single logical unit. Per spec §4.6 each
// conversation's messages are written in one transaction; conversations
// are independent of each other. The whole unit retries once, against a
// freshly reconnected pool, if it fails on a connection-class error.
func (l *Loader) loadConversation(ctx context.Context, archiveID int64, tc *model.TransformedConversation) error {
	op := fmt.Sprintf("load conversation %s", tc.ID)
	err := l.withReconnect(ctx, op, func() error {
		return l.loadConversationTx(ctx, archiveID, tc)
	})
	if err != nil && !etlerrors.IsLoad(err) {
		return etlerrors.NewLoadError(etlcontext.PhaseLoad, op, err, false)
	}
	return err
}

// loadConversationTx does the actual work of loadConversation inside a
// single pgx.Tx: the conversation row, every message batch, and every
// side-table row all commit together or not at all.
func (l *Loader) loadConversationTx(ctx context.Context, archiveID int64, tc *model.TransformedConversation) error {
	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin conversation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var displayName *string
	if tc.DisplayName != "" {
		displayName = &tc.DisplayName
	}
	convRow := &database.ConversationRow{
		ArchiveID:      archiveID,
		ConversationID: tc.ID,
		DisplayName:    displayName,
		MessageCount:   tc.MessageCount,
		FirstMessageAt: formatTimePtr(tc.FirstMessageTime),
		LastMessageAt:  formatTimePtr(tc.LastMessageTime),
	}
	convID, err := l.db.InsertConversation(ctx, tx, convRow)
	if err != nil {
		return fmt.Errorf("insert conversation %s: %w", tc.ID, err)
	}

	buf := NewRowBuffer[*model.TransformedMessage](l.batchSize)
	for i := range tc.Messages {
		m := &tc.Messages[i]
		if ready := buf.Add(m); ready {
			if err := l.flushIndividually(ctx, tx, convID, buf.Drain()); err != nil {
				return err
			}
		}
	}
	if remaining := buf.Drain(); len(remaining) > 0 {
		if err := l.flushIndividually(ctx, tx, convID, remaining); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit conversation transaction: %w", err)
	}
	return nil
}

// flushIndividually writes a batch of messages. A batch that carries
// structured side-table payloads is written one row at a time so each
// message's generated id is available for an immediate side-table insert;
// bulk CopyFrom is used only when a batch carries no such payloads (the
// common case for plain text conversations). Both paths write
// through q (the conversation's transaction), never the bare pool.
func (l *Loader) flushIndividually(ctx context.Context, q database.Querier, convID int64, messages []*model.TransformedMessage) error {
	if allPlain(messages) {
		rows := make([]*database.MessageRow, len(messages))
		for i, m := range messages {
			rows[i] = toMessageRow(convID, m)
		}
		if _, err := l.db.BulkInsertMessages(ctx, q, rows); err == nil {
			return nil
		}
		l.log.Warn().Int64("conversation_id", convID).Msg("bulk message insert failed, falling back to individual inserts")
	}

	for _, m := range messages {
		row := toMessageRow(convID, m)
		msgID, err := l.db.InsertMessage(ctx, q, row)
		if err != nil {
			if isConnectionError(err) {
				return fmt.Errorf("insert message %d: %w", m.OriginalIndex, err)
			}
			l.log.Warn().Err(err).Int("original_index", m.OriginalIndex).Msg("message insert failed, skipping row")
			continue
		}
		if err := l.insertSideTable(ctx, q, msgID, m.StructuredData); err != nil {
			l.log.Warn().Err(err).Int64("message_id", msgID).Msg("side-table insert failed")
		}
	}
	return nil
}

func allPlain(messages []*model.TransformedMessage) bool {
	for _, m := range messages {
		switch m.StructuredData.Kind {
		case model.KindMedia, model.KindPoll, model.KindLocation:
			return false
		}
	}
	return true
}

func toMessageRow(convID int64, m *model.TransformedMessage) *database.MessageRow {
	return &database.MessageRow{
		ConversationID: convID,
		OriginalIndex:  m.OriginalIndex,
		Timestamp:      formatTimePtr(m.ParsedTime),
		TimestampRaw:   m.Timestamp,
		FromID:         m.FromID,
		FromName:       m.FromName,
		MessageType:    m.Type,
		RawContent:     m.RawContent,
		CleanedContent: m.CleanedContent,
		IsEdited:       m.IsEdited,
		EditNote:       m.EditNote,
		StructuredKind: string(m.StructuredData.Kind),
	}
}

func (l *Loader) insertSideTable(ctx context.Context, q database.Querier, msgID int64, sd model.StructuredData) error {
	switch sd.Kind {
	case model.KindMedia:
		if sd.Media == nil {
			return nil
		}
		return l.db.InsertMessageMedia(ctx, q, &database.MediaRow{
			MessageID: msgID, Filename: sd.Media.Filename, Filesize: sd.Media.Filesize,
			Filetype: sd.Media.Filetype, URL: sd.Media.URL, ThumbnailURL: sd.Media.ThumbnailURL,
			Width: sd.Media.Width, Height: sd.Media.Height, Duration: sd.Media.Duration,
			Description: sd.Media.Description,
		})
	case model.KindPoll:
		if sd.Poll == nil {
			return nil
		}
		return l.db.InsertMessagePoll(ctx, q, &database.PollRow{
			MessageID: msgID, Question: sd.Poll.Question, Options: sd.Poll.Options,
		})
	case model.KindLocation:
		if sd.Location == nil {
			return nil
		}
		return l.db.InsertMessageLocation(ctx, q, &database.LocationRow{
			MessageID: msgID, Latitude: sd.Location.Latitude, Longitude: sd.Location.Longitude, Address: sd.Location.Address,
		})
	}
	return nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// unknownExportPattern documents the synthesized-path format asserted by
// the pipeline's test suite (spec §8 scenario 3).
var unknownExportPattern = regexp.MustCompile(`^unknown_export_\d{8}_\d{6}\.tar$`)
