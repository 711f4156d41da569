package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx. Every insert
// function in this file takes one explicitly, so a caller can route a
// conversation's writes through a single transaction instead of letting
// each statement auto-commit against the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ArchiveRow is one row of skype_archives: the at-most-once registration of
// an export (user_id, export_date) pair.
type ArchiveRow struct {
	ID                int64
	UserID            string
	ExportDate        string
	FilePath          string
	RawDataBlob       []byte
	ConversationCount int
}

// UpsertArchive registers an archive, keyed on (user_id, export_date). If
// the pair already exists the row is updated in place and the existing id
// is returned — this is the at-most-once registration the Loader relies on
// when resuming a run that already reached the load phase once.
func (db *DB) UpsertArchive(ctx context.Context, q Querier, a *ArchiveRow) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO skype_archives (user_id, export_date, file_path, raw_data_blob, conversation_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, export_date) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			raw_data_blob = COALESCE(EXCLUDED.raw_data_blob, skype_archives.raw_data_blob),
			conversation_count = EXCLUDED.conversation_count
		RETURNING id
	`, a.UserID, a.ExportDate, a.FilePath, a.RawDataBlob, a.ConversationCount).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ConversationRow is one row of skype_conversations.
type ConversationRow struct {
	ID               int64
	ArchiveID        int64
	ConversationID   string
	DisplayName      *string
	MessageCount     int
	FirstMessageAt   *string // RFC3339, nil if no parseable timestamps
	LastMessageAt    *string
}

// InsertConversation inserts one conversation under archiveID and returns its id.
func (db *DB) InsertConversation(ctx context.Context, q Querier, c *ConversationRow) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO skype_conversations (archive_id, conversation_id, display_name, message_count, first_message_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (archive_id, conversation_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			message_count = EXCLUDED.message_count,
			first_message_at = EXCLUDED.first_message_at,
			last_message_at = EXCLUDED.last_message_at
		RETURNING id
	`, c.ArchiveID, c.ConversationID, c.DisplayName, c.MessageCount, c.FirstMessageAt, c.LastMessageAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MessageRow is one row of skype_messages, flattened for both insertion
// strategies (bulk CopyFrom and individual parameterized insert).
type MessageRow struct {
	ConversationID int64
	OriginalIndex  int
	Timestamp      *string // RFC3339, nil if unparseable
	TimestampRaw   string
	FromID         string
	FromName       string
	MessageType    string
	RawContent     string
	CleanedContent string
	IsEdited       bool
	EditNote       string
	StructuredKind string
}

// messageColumns is shared between the bulk and individual insert paths so
// the two strategies never drift out of sync.
var messageColumns = []string{
	"conversation_id", "original_index", "timestamp", "timestamp_raw",
	"from_id", "from_name", "message_type", "raw_content", "cleaned_content",
	"is_edited", "edit_note", "structured_kind",
}

func (r *MessageRow) copyValues() []any {
	return []any{
		r.ConversationID, r.OriginalIndex, r.Timestamp, r.TimestampRaw,
		r.FromID, r.FromName, r.MessageType, r.RawContent, r.CleanedContent,
		r.IsEdited, r.EditNote, r.StructuredKind,
	}
}

// BulkInsertMessages inserts rows via CopyFrom, without returning their ids
// — callers that need per-message ids (to attach side-table rows) must use
// InsertMessage instead. Used for the common case where no row in the batch
// carries structured side-table data.
func (db *DB) BulkInsertMessages(ctx context.Context, q Querier, rows []*MessageRow) (int64, error) {
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = r.copyValues()
	}
	return q.CopyFrom(ctx, pgx.Identifier{"skype_messages"}, messageColumns, pgx.CopyFromRows(copyRows))
}

// InsertMessage inserts a single message and returns its id, for rows that
// need a follow-up side-table insert or that failed a prior bulk attempt.
func (db *DB) InsertMessage(ctx context.Context, q Querier, r *MessageRow) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO skype_messages (
			conversation_id, original_index, timestamp, timestamp_raw,
			from_id, from_name, message_type, raw_content, cleaned_content,
			is_edited, edit_note, structured_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, r.ConversationID, r.OriginalIndex, r.Timestamp, r.TimestampRaw,
		r.FromID, r.FromName, r.MessageType, r.RawContent, r.CleanedContent,
		r.IsEdited, r.EditNote, r.StructuredKind).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MediaRow is a skype_message_media side-table row.
type MediaRow struct {
	MessageID    int64
	Filename     string
	Filesize     int64
	Filetype     string
	URL          string
	ThumbnailURL string
	Width        *int
	Height       *int
	Duration     *float64
	Description  string
}

func (db *DB) InsertMessageMedia(ctx context.Context, q Querier, m *MediaRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO skype_message_media (message_id, filename, filesize, filetype, url, thumbnail_url, width, height, duration, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.MessageID, m.Filename, m.Filesize, m.Filetype, m.URL, m.ThumbnailURL, m.Width, m.Height, m.Duration, m.Description)
	return err
}

// PollRow is a skype_message_poll side-table row, with its ordered options.
type PollRow struct {
	MessageID int64
	Question  string
	Options   []string
}

func (db *DB) InsertMessagePoll(ctx context.Context, q Querier, p *PollRow) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO skype_message_poll (message_id, question) VALUES ($1, $2)
	`, p.MessageID, p.Question); err != nil {
		return err
	}
	for i, opt := range p.Options {
		if _, err := q.Exec(ctx, `
			INSERT INTO skype_message_poll_option (message_id, position, label) VALUES ($1, $2, $3)
		`, p.MessageID, i, opt); err != nil {
			return err
		}
	}
	return nil
}

// LocationRow is a skype_message_location side-table row.
type LocationRow struct {
	MessageID int64
	Latitude  float64
	Longitude float64
	Address   string
}

func (db *DB) InsertMessageLocation(ctx context.Context, q Querier, l *LocationRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO skype_message_location (message_id, latitude, longitude, address)
		VALUES ($1, $2, $3, $4)
	`, l.MessageID, l.Latitude, l.Longitude, l.Address)
	return err
}
