package model

import "time"

// TransformedExport is the normalized shape the Transformer produces from a
// RawExport. ConversationOrder preserves the input order (the Conversations
// map alone does not) so non-streaming mode can expose a deterministic iteration order as
// required by the ordering guarantees in the spec.
type TransformedExport struct {
	Metadata          ExportMetadata
	Conversations     map[string]*TransformedConversation
	ConversationOrder []string
}

// ExportMetadata summarizes the export as a whole.
type ExportMetadata struct {
	UserID              string
	UserDisplayName     string
	ExportDateRaw       string
	ExportDateFormatted string
	ConversationCount   int
}

// TransformedConversation is a single normalized conversation.
type TransformedConversation struct {
	ID               string
	DisplayName      string
	MessageCount     int
	FirstMessageTime *time.Time
	LastMessageTime  *time.Time
	Messages         []TransformedMessage
}

// TransformedMessage is a single normalized message, ordered within its
// conversation by ParsedTime (ascending), with unparseable timestamps
// sorted to the end in original input order.
type TransformedMessage struct {
	Timestamp          string
	TimestampFormatted string
	Date               string
	Time               string
	FromID             string
	FromName           string
	Type               string
	RawContent         string
	CleanedContent     string
	IsEdited           bool
	EditNote           string
	StructuredData     StructuredData

	// ParsedTime and OriginalIndex drive sort order and are not persisted.
	ParsedTime    *time.Time
	OriginalIndex int
}
