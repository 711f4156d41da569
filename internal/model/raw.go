// Package model defines the shared data shapes that flow through the ETL
// pipeline: the verbatim Skype export shape (Raw*) and the normalized shape
// produced by the Transformer (Transformed*). It has no dependencies on any
// other internal package so every pipeline phase can import it without
// creating import cycles.
package model

// RawExport is the verbatim top-level Skype export document.
// Fields beyond these three are ignored but the original bytes are kept
// untouched alongside (see internal/extract), so nothing here needs to
// round-trip unknown keys.
type RawExport struct {
	UserID        string            `json:"userId"`
	ExportDate    string            `json:"exportDate"`
	Conversations []RawConversation `json:"conversations"`
}

// RawConversation is a single conversation entry from the export.
type RawConversation struct {
	ID          string       `json:"id"`
	DisplayName *string      `json:"displayName"`
	MessageList []RawMessage `json:"MessageList"`
}

// RawMessage is a single message entry within a conversation's MessageList.
type RawMessage struct {
	ID                   string `json:"id"`
	OriginalArrivalTime  string `json:"originalarrivaltime"`
	From                 string `json:"from"`
	DisplayName          string `json:"displayName"`
	Content              string `json:"content"`
	MessageType          string `json:"messagetype"`
}
