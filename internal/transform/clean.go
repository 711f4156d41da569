package transform

import (
	"regexp"
	"strings"
)

// placeholderByType maps message types to the human-readable text that
// replaces the raw content for anything that isn't the RichText family.
// Grounded on the original pipeline's type-to-description table.
var placeholderByType = map[string]string{
	"Event/Call":                   "***A call started/ended***",
	"Poll":                         "***Created a poll***",
	"RichText/Media_Album":         "***Sent an album of images***",
	"RichText/Media_AudioMsg":      "***Sent a voice message***",
	"RichText/Media_CallRecording": "***Sent a call recording***",
	"RichText/Media_Card":          "***Sent a media card***",
	"RichText/Media_FlikMsg":       "***Sent a moji***",
	"RichText/Media_GenericFile":   "***Sent a file***",
	"RichText/Media_Video":         "***Sent a video message***",
	"RichText/UriObject":           "***Sent a photo***",
	"RichText/ScheduledCallInvite": "***Scheduled a call***",
	"RichText/Location":            "***Sent a location***",
	"RichText/Contacts":            "***Sent a contact***",
}

// isRichTextFamily reports whether messageType should keep its raw content
// instead of being replaced by a placeholder.
func isRichTextFamily(messageType string) bool {
	return messageType == "RichText" || messageType == "RichText/HTML"
}

// placeholderFor returns the display text for a non-RichText message type.
func placeholderFor(messageType string) string {
	if p, ok := placeholderByType[messageType]; ok {
		return p
	}
	return "***Sent a " + messageType + "***"
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

var curlyQuoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
)

// cleanContent strips HTML tags and normalizes curly quotes to their ASCII
// equivalents.
func cleanContent(content string) string {
	stripped := htmlTagPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(curlyQuoteReplacer.Replace(stripped))
}

var editMarkerPattern = regexp.MustCompile(`<e_m.*>`)

// isEditMarked reports whether content carries the edit marker used to
// distinguish an edited resend from its original.
func isEditMarked(content string) bool {
	return editMarkerPattern.MatchString(content)
}

var unsafePathChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// sanitizeDisplayName strips filesystem-unsafe characters, collapses
// whitespace, and truncates to 255 codepoints.
func sanitizeDisplayName(name string) string {
	cleaned := unsafePathChars.ReplaceAllString(name, "")
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if len(runes) > 255 {
		runes = runes[:255]
	}
	return string(runes)
}

// displayNameFromConversationID derives a fallback display name from a
// conversation id's right-hand side (the text after the first ':').
func displayNameFromConversationID(id string) string {
	if idx := strings.Index(id, ":"); idx >= 0 {
		return sanitizeDisplayName(id[idx+1:])
	}
	return sanitizeDisplayName(id)
}
