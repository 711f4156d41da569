package fileio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Header carries the eagerly-parsed top-level fields of a streamed export.
type Header struct {
	UserID     string
	ExportDate string
}

// ConversationStream is a lazy, single-pass sequence over an export's
// conversations array. It must be closed exactly once; closing releases the
// underlying file descriptor whether or not iteration completed.
type ConversationStream struct {
	closer  io.Closer
	decoder *json.Decoder
	done    bool
}

// Stream opens path and returns the parsed Header plus a ConversationStream
// that yields one RawConversation at a time without materializing the
// whole document. Only bare JSON input is decoded straight from disk — a
// ".tar" input is first unpacked into memory via ReadTarball, trading the TAR
// case's memory bound for the simplicity of one decode path (TAR exports are
// assumed to hold a single moderate-size messages.json in this pipeline's usage).
func Stream(path string) (Header, *ConversationStream, error) {
	var f io.ReadCloser
	if strings.ToLower(filepath.Ext(path)) == ".tar" {
		doc, err := ReadTarball(path, true)
		if err != nil {
			return Header{}, nil, err
		}
		f = io.NopCloser(bytes.NewReader(doc.Raw))
	} else {
		file, err := os.Open(path)
		if err != nil {
			return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "open input file for streaming", err)
		}
		f = file
	}

	dec := json.NewDecoder(f)

	if _, err := dec.Token(); err != nil { // '{'
		f.Close()
		return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "stream: expected object", err)
	}

	var hdr Header
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			f.Close()
			return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "stream: read key", err)
		}
		key, _ := keyTok.(string)

		if key == "conversations" {
			if _, err := dec.Token(); err != nil { // '['
				f.Close()
				return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "stream: expected conversations array", err)
			}
			return hdr, &ConversationStream{closer: f, decoder: dec}, nil
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			f.Close()
			return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, fmt.Sprintf("stream: decode field %q", key), err)
		}
		switch key {
		case "userId":
			_ = json.Unmarshal(raw, &hdr.UserID)
		case "exportDate":
			_ = json.Unmarshal(raw, &hdr.ExportDate)
		}
	}

	f.Close()
	return Header{}, nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "stream: document has no conversations field", nil)
}

// Next decodes the next conversation, returning io.EOF once the array is
// exhausted.
func (s *ConversationStream) Next() (model.RawConversation, error) {
	if s.done {
		return model.RawConversation{}, io.EOF
	}
	if !s.decoder.More() {
		s.done = true
		return model.RawConversation{}, io.EOF
	}
	var conv model.RawConversation
	if err := s.decoder.Decode(&conv); err != nil {
		s.done = true
		return model.RawConversation{}, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "stream: decode conversation", err)
	}
	return conv, nil
}

// Close releases the underlying file descriptor. Safe to call more than once.
func (s *ConversationStream) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
