package model

// StructuredKind tags which variant of StructuredData is populated.
type StructuredKind string

const (
	KindText          StructuredKind = "Text"
	KindHTML          StructuredKind = "HTML"
	KindLink          StructuredKind = "Link"
	KindMedia         StructuredKind = "Media"
	KindPoll          StructuredKind = "Poll"
	KindLocation      StructuredKind = "Location"
	KindCall          StructuredKind = "Call"
	KindScheduledCall StructuredKind = "ScheduledCall"
	KindSystem        StructuredKind = "System"
	KindContactCard   StructuredKind = "ContactCard"
	KindFileTransfer  StructuredKind = "FileTransfer"
	KindEdited        StructuredKind = "Edited"
	KindDeleted       StructuredKind = "Deleted"
	KindUnknown       StructuredKind = "Unknown"
)

// StructuredData is the tagged union a MessageHandler produces for a message.
// Only the field matching Kind is populated; the rest are nil/zero. This
// mirrors the teacher's envelope-plus-typed-payload shape (see
// internal/ingest/messages.go in the reference tr-engine package) adapted
// into a single sum type instead of one Go struct per MQTT topic.
type StructuredData struct {
	Kind StructuredKind `json:"kind"`

	Media         *MediaData         `json:"media,omitempty"`
	Poll          *PollData          `json:"poll,omitempty"`
	Location      *LocationData      `json:"location,omitempty"`
	Link          *LinkData          `json:"link,omitempty"`
	Call          *CallData          `json:"call,omitempty"`
	ScheduledCall *ScheduledCallData `json:"scheduledCall,omitempty"`
	ContactCard   *ContactCardData   `json:"contactCard,omitempty"`
	FileTransfer  *FileTransferData  `json:"fileTransfer,omitempty"`

	// RawType carries the original messagetype string for the Unknown variant.
	RawType string `json:"rawType,omitempty"`
}

// MediaData carries fields for images, videos, audio messages, files, and cards.
type MediaData struct {
	Filename     string   `json:"filename"`
	Filesize     int64    `json:"filesize"`
	Filetype     string   `json:"filetype"`
	URL          string   `json:"url"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// PollData carries a poll's question and its ordered options.
type PollData struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// LocationData carries a shared-location message's coordinates.
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// LinkData carries a shared-URL message.
type LinkData struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// CallData carries a call-event message's summary fields.
type CallData struct {
	Duration *float64 `json:"duration,omitempty"`
	State    string   `json:"state,omitempty"`
}

// ScheduledCallData carries a scheduled-call-invite message.
type ScheduledCallData struct {
	Title string `json:"title,omitempty"`
	When  string `json:"when,omitempty"`
}

// ContactCardData carries a shared-contact message.
type ContactCardData struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// FileTransferData carries a legacy file-transfer message.
type FileTransferData struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Status   string `json:"status,omitempty"`
}
