// Package transform implements the Transformer and MessageHandlerRegistry
// (spec §4.4, §4.5): normalizing raw Skype messages into the TransformedMessage
// shape and dispatching per messagetype to extract a StructuredData variant.
package transform

import (
	"strconv"
	"strings"

	"github.com/skypearchive/etl-engine/internal/model"
)

// Handler extracts a StructuredData variant from a raw message already
// known to match the type(s) the handler was registered for.
type Handler func(msg model.RawMessage) model.StructuredData

// HandlerRegistry maps messagetype strings to Handlers. It is populated
// once at construction and is safe for concurrent reads thereafter — the
// same contract the teacher's router.go documents for its topic handlers.
type HandlerRegistry struct {
	exact    map[string]Handler
	prefixes []prefixHandler
	unknown  Handler
}

type prefixHandler struct {
	prefix  string
	handler Handler
}

// NewHandlerRegistry builds the registry with the full set of variant
// handlers this pipeline understands.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{
		exact:   make(map[string]Handler),
		unknown: unknownHandler,
	}

	r.register("RichText", textHandler)
	r.register("RichText/HTML", htmlHandler)
	r.register("RichText/UriObject", mediaHandler)
	r.register("RichText/Media_Album", mediaHandler)
	r.register("RichText/Media_AudioMsg", mediaHandler)
	r.register("RichText/Media_CallRecording", mediaHandler)
	r.register("RichText/Media_Card", mediaHandler)
	r.register("RichText/Media_FlikMsg", mediaHandler)
	r.register("RichText/Media_GenericFile", fileTransferHandler)
	r.register("RichText/Media_Video", mediaHandler)
	r.register("RichText/Location", locationHandler)
	r.register("RichText/Contacts", contactCardHandler)
	r.register("RichText/ScheduledCallInvite", scheduledCallHandler)
	r.register("Poll", pollHandler)
	r.register("Event/Call", callHandler)
	r.registerPrefix("RichText/Media_", mediaHandler)

	return r
}

func (r *HandlerRegistry) register(messageType string, h Handler) {
	r.exact[messageType] = h
}

func (r *HandlerRegistry) registerPrefix(prefix string, h Handler) {
	r.prefixes = append(r.prefixes, prefixHandler{prefix: prefix, handler: h})
}

// HandlerFor resolves a messagetype: exact match first, then the first
// registered family prefix that matches, then the Unknown handler.
func (r *HandlerRegistry) HandlerFor(messageType string) Handler {
	if h, ok := r.exact[messageType]; ok {
		return h
	}
	for _, ph := range r.prefixes {
		if strings.HasPrefix(messageType, ph.prefix) {
			return ph.handler
		}
	}
	return r.unknown
}

func textHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{Kind: model.KindText}
}

func htmlHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{Kind: model.KindHTML}
}

func mediaHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{
		Kind:  model.KindMedia,
		Media: parseMediaContent(msg.Content),
	}
}

func fileTransferHandler(msg model.RawMessage) model.StructuredData {
	media := parseMediaContent(msg.Content)
	return model.StructuredData{
		Kind: model.KindFileTransfer,
		FileTransfer: &model.FileTransferData{
			Filename: media.Filename,
			Filesize: media.Filesize,
			Status:   "completed",
		},
	}
}

func locationHandler(msg model.RawMessage) model.StructuredData {
	lat, lon, addr := extractAttr(msg.Content, "latitude"), extractAttr(msg.Content, "longitude"), extractAttr(msg.Content, "address")
	latF, _ := strconv.ParseFloat(lat, 64)
	lonF, _ := strconv.ParseFloat(lon, 64)
	return model.StructuredData{
		Kind: model.KindLocation,
		Location: &model.LocationData{
			Latitude:  latF,
			Longitude: lonF,
			Address:   addr,
		},
	}
}

func contactCardHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{
		Kind: model.KindContactCard,
		ContactCard: &model.ContactCardData{
			Name:  extractAttr(msg.Content, "displayname"),
			Phone: extractAttr(msg.Content, "phonenumber"),
		},
	}
}

func scheduledCallHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{
		Kind: model.KindScheduledCall,
		ScheduledCall: &model.ScheduledCallData{
			Title: extractAttr(msg.Content, "title"),
			When:  extractAttr(msg.Content, "when"),
		},
	}
}

func pollHandler(msg model.RawMessage) model.StructuredData {
	question := extractAttr(msg.Content, "question")
	var options []string
	for _, raw := range extractAttrAll(msg.Content, "option") {
		if raw != "" {
			options = append(options, raw)
		}
	}
	return model.StructuredData{
		Kind: model.KindPoll,
		Poll: &model.PollData{
			Question: question,
			Options:  options,
		},
	}
}

func callHandler(msg model.RawMessage) model.StructuredData {
	state := extractAttr(msg.Content, "state")
	var duration *float64
	if d := extractAttr(msg.Content, "duration"); d != "" {
		if v, err := strconv.ParseFloat(d, 64); err == nil {
			duration = &v
		}
	}
	return model.StructuredData{
		Kind: model.KindCall,
		Call: &model.CallData{
			Duration: duration,
			State:    state,
		},
	}
}

func unknownHandler(msg model.RawMessage) model.StructuredData {
	return model.StructuredData{Kind: model.KindUnknown, RawType: msg.MessageType}
}

// parseMediaContent extracts the common media fields out of a URIObject /
// Media_* message's XML-ish content blob.
func parseMediaContent(content string) *model.MediaData {
	m := &model.MediaData{
		Filename:     extractAttr(content, "filename"),
		Filetype:     extractAttr(content, "type"),
		URL:          firstNonEmpty(extractTagText(content, "OriginalName"), extractAttr(content, "uri")),
		ThumbnailURL: extractAttr(content, "url_thumbnail"),
	}
	if size := extractAttr(content, "filesize"); size != "" {
		if v, err := strconv.ParseInt(size, 10, 64); err == nil {
			m.Filesize = v
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
