package transform

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Transformer normalizes a RawExport into a TransformedExport, dispatching
// per-message structured-data extraction to a HandlerRegistry.
type Transformer struct {
	registry   *HandlerRegistry
	maxWorkers int
	log        zerolog.Logger
}

// New builds a Transformer with the default handler registry.
func New(maxWorkers int, log zerolog.Logger) *Transformer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Transformer{
		registry:   NewHandlerRegistry(),
		maxWorkers: maxWorkers,
		log:        log.With().Str("component", "transformer").Logger(),
	}
}

// Transform normalizes the whole export. ctx supplies the shared identity
// map and receives per-conversation progress updates and any non-fatal
// errors encountered along the way.
func (t *Transformer) Transform(ctx *etlcontext.Context, raw *model.RawExport, userDisplayName string) (*model.TransformedExport, error) {
	if raw == nil {
		return nil, etlerrors.NewValidationError(etlcontext.PhaseTransform, "raw export is nil")
	}

	ctx.IdentitySet(raw.UserID, firstNonEmpty(userDisplayName, raw.UserID))

	n := len(raw.Conversations)
	order := make([]string, n)
	results := make([]*model.TransformedConversation, n)
	var mu sync.Mutex

	runBounded(n, t.maxWorkers, func(i int) {
		rc := raw.Conversations[i]
		order[i] = rc.ID
		tc, err := t.transformConversation(ctx, rc)
		if err != nil {
			ctx.RecordError(etlcontext.PhaseTransform, err, false)
			t.log.Warn().Err(err).Str("conversation_id", rc.ID).Msg("conversation transform failed, excluded from result")
			return
		}
		mu.Lock()
		results[i] = tc
		mu.Unlock()
		ctx.UpdateProgress(1, len(tc.Messages))
	})

	out := &model.TransformedExport{
		Metadata: model.ExportMetadata{
			UserID:              raw.UserID,
			UserDisplayName:     firstNonEmpty(userDisplayName, raw.UserID),
			ExportDateRaw:       raw.ExportDate,
			ExportDateFormatted: formatExportDate(raw.ExportDate),
		},
		Conversations: make(map[string]*model.TransformedConversation),
	}
	for i, tc := range results {
		if tc == nil {
			continue
		}
		out.Conversations[order[i]] = tc
		out.ConversationOrder = append(out.ConversationOrder, order[i])
	}
	out.Metadata.ConversationCount = len(out.ConversationOrder)

	return out, nil
}

// TransformStreamed normalizes a single conversation outside of a full
// Transform call, for the streaming pipeline variant where conversations
// are processed one at a time as they arrive.
func (t *Transformer) TransformStreamed(ctx *etlcontext.Context, rc model.RawConversation) (*model.TransformedConversation, error) {
	return t.transformConversation(ctx, rc)
}

// transformConversation normalizes one conversation. Messages within a
// conversation are always processed sequentially — edit detection and
// ordering both depend on it.
func (t *Transformer) transformConversation(ctx *etlcontext.Context, rc model.RawConversation) (*model.TransformedConversation, error) {
	displayName := ""
	if rc.DisplayName != nil {
		displayName = sanitizeDisplayName(*rc.DisplayName)
		if displayName == "" && *rc.DisplayName != "" {
			displayName = displayNameFromConversationID(rc.ID)
		}
	} else {
		displayName = displayNameFromConversationID(rc.ID)
	}

	tc := &model.TransformedConversation{
		ID:          rc.ID,
		DisplayName: displayName,
	}

	messages := make([]model.TransformedMessage, 0, len(rc.MessageList))
	var prevRaw string
	for idx, rm := range rc.MessageList {
		tm, err := t.transformMessage(ctx, rm, idx, prevRaw)
		if err != nil {
			ctx.RecordError(etlcontext.PhaseTransform, err, false)
			tm = model.TransformedMessage{
				Type:          "Error",
				OriginalIndex: idx,
				FromID:        rm.From,
				RawContent:    rm.Content,
			}
		}
		messages = append(messages, tm)
		prevRaw = rm.Content
	}

	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if a.ParsedTime == nil && b.ParsedTime == nil {
			return a.OriginalIndex < b.OriginalIndex
		}
		if a.ParsedTime == nil {
			return false
		}
		if b.ParsedTime == nil {
			return true
		}
		if a.ParsedTime.Equal(*b.ParsedTime) {
			return a.OriginalIndex < b.OriginalIndex
		}
		return a.ParsedTime.Before(*b.ParsedTime)
	})

	tc.Messages = messages
	tc.MessageCount = len(messages)
	for _, m := range messages {
		if m.ParsedTime == nil {
			continue
		}
		if tc.FirstMessageTime == nil || m.ParsedTime.Before(*tc.FirstMessageTime) {
			t := *m.ParsedTime
			tc.FirstMessageTime = &t
		}
		if tc.LastMessageTime == nil || m.ParsedTime.After(*tc.LastMessageTime) {
			t := *m.ParsedTime
			tc.LastMessageTime = &t
		}
	}

	return tc, nil
}

func (t *Transformer) transformMessage(ctx *etlcontext.Context, rm model.RawMessage, idx int, prevRawContent string) (model.TransformedMessage, error) {
	if rm.From != "" && rm.DisplayName != "" {
		ctx.IdentitySet(rm.From, rm.DisplayName)
	}
	fromName := rm.From
	if name, ok := ctx.IdentityLookup(rm.From); ok {
		fromName = name
	} else if rm.DisplayName != "" {
		fromName = rm.DisplayName
	}

	tm := model.TransformedMessage{
		Timestamp:     rm.OriginalArrivalTime,
		FromID:        rm.From,
		FromName:      fromName,
		Type:          rm.MessageType,
		RawContent:    rm.Content,
		OriginalIndex: idx,
	}

	if parsed, err := time.Parse(time.RFC3339, rm.OriginalArrivalTime); err == nil {
		tm.ParsedTime = &parsed
		tm.TimestampFormatted = parsed.UTC().Format(time.RFC3339)
		tm.Date = parsed.UTC().Format("2006-01-02")
		tm.Time = parsed.UTC().Format("15:04:05")
	}

	isEdited := idx > 0 && rm.Content == prevRawContent && isEditMarked(rm.Content)
	tm.IsEdited = isEdited
	if isEdited {
		tm.EditNote = "message resent at " + tm.TimestampFormatted
	}

	displayContent := rm.Content
	if !isRichTextFamily(rm.MessageType) {
		displayContent = placeholderFor(rm.MessageType)
	}
	tm.CleanedContent = cleanContent(displayContent)

	handler := t.registry.HandlerFor(rm.MessageType)
	tm.StructuredData = handler(rm)

	return tm, nil
}

func formatExportDate(raw string) string {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format(time.RFC3339)
	}
	return raw
}

