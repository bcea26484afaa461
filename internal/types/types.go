package types

import (
	"time"
)

type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageLocation MessageType = "location"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageFile     MessageType = "file"
)

// IsFileKind reports whether the message type refers to an
// uploaded file shared by reference.
func (t MessageType) IsFileKind() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageDocument, MessageFile:
		return true
	default:
		return false
	}
}

type TextPayload struct {
	Content string `json:"content"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

type FilePayload struct {
	URL      string `json:"file_url"`
	Filename string `json:"filename"`
	Size     int64  `json:"file_size"`
	Caption  string `json:"caption,omitempty"`
}

// Message is a single log entry. Exactly one payload pointer is set,
// selected by Type; file kinds (image, video, audio, document, file)
// all use the File payload.
type Message struct {
	Type      MessageType      `json:"message_type"`
	Sender    string           `json:"sender_id"`
	RoomId    string           `json:"room_id"`
	Timestamp time.Time        `json:"timestamp"`
	Text      *TextPayload     `json:"text,omitempty"`
	Location  *LocationPayload `json:"location,omitempty"`
	File      *FilePayload     `json:"file,omitempty"`
}

// RoomSummary is the read-only view of a room returned by room
// listings. For private rooms, Name is overridden to the other
// member's id and OtherUser is set.
type RoomSummary struct {
	RoomId      string    `json:"room_id"`
	Type        RoomType  `json:"type"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	OtherUser   string    `json:"other_user,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
