package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/types"
)

// Outbound frame discriminators.
const (
	FrameMessage     = "message"
	FrameOnlineUsers = "online_users"
	FrameChatHistory = "chat_history"
	FrameConnection  = "connection"
	FrameRoomsList   = "rooms_list"
	FrameError       = "error"
	FrameUserJoined  = "user_joined"
	FrameUserLeft    = "user_left"
)

// ServerFrame is a flat outbound wire record, discriminated by Type.
// Only the fields relevant to the frame type are populated.
type ServerFrame struct {
	Type        string            `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	RoomId      string            `json:"room_id,omitempty"`
	MessageType types.MessageType `json:"message_type,omitempty"`
	Sender      string            `json:"sender_id,omitempty"`

	// message payload variants
	Content   string   `json:"content,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
	FileUrl   string   `json:"file_url,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	FileSize  int64    `json:"file_size,omitempty"`
	Caption   string   `json:"caption,omitempty"`

	// connection, presence and error frames
	Status    string     `json:"status,omitempty"`
	Message   string     `json:"message,omitempty"`
	UserId    string     `json:"user_id,omitempty"`
	LoginTime *time.Time `json:"login_time,omitempty"`

	// list frames
	Users    []string            `json:"users,omitempty"`
	Rooms    []types.RoomSummary `json:"rooms,omitempty"`
	Messages []*ServerFrame      `json:"messages,omitempty"`
	Count    int                 `json:"count"`
}

// ClientFrame is an inbound websocket frame prior to validation.
type ClientFrame struct {
	RoomId      string   `json:"room_id"`
	MessageType string   `json:"message_type"`
	Content     string   `json:"content"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Address     string   `json:"address"`
	FileUrl     string   `json:"file_url"`
	Filename    string   `json:"filename"`
	FileSize    int64    `json:"file_size"`
	Caption     string   `json:"caption"`
}

// parseClientFrame decodes an inbound frame and applies the wire
// defaults: room_id falls back to the public room, message_type to text.
func parseClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse client frame: %w", err)
	}

	if f.RoomId == "" {
		f.RoomId = PublicRoomId
	}
	if f.MessageType == "" {
		f.MessageType = string(types.MessageText)
	}

	return &f, nil
}

// Message validates the frame's payload variant and converts it to a
// log entry. Frames missing the required variant fields are rejected.
func (f *ClientFrame) Message(sender string, ts time.Time) (types.Message, error) {
	msg := types.Message{
		Type:      types.MessageType(f.MessageType),
		Sender:    sender,
		RoomId:    f.RoomId,
		Timestamp: ts,
	}

	switch msg.Type {
	case types.MessageText:
		content := strings.TrimSpace(f.Content)
		if content == "" {
			return types.Message{}, fmt.Errorf("text message without content")
		}
		msg.Text = &types.TextPayload{Content: content}
	case types.MessageLocation:
		if f.Latitude == nil || f.Longitude == nil {
			return types.Message{}, fmt.Errorf("location message without coordinates")
		}
		address := f.Address
		if address == "" {
			address = "Location"
		}
		msg.Location = &types.LocationPayload{
			Latitude:  *f.Latitude,
			Longitude: *f.Longitude,
			Address:   address,
		}
	default:
		if !msg.Type.IsFileKind() {
			return types.Message{}, fmt.Errorf("unknown message type %q", f.MessageType)
		}
		if f.FileUrl == "" {
			return types.Message{}, fmt.Errorf("%s message without file reference", f.MessageType)
		}
		filename := f.Filename
		if filename == "" {
			filename = "file"
		}
		msg.File = &types.FilePayload{
			URL:      f.FileUrl,
			Filename: filename,
			Size:     f.FileSize,
			Caption:  f.Caption,
		}
	}

	return msg, nil
}

// MessageFrame flattens a log entry into its wire representation.
func MessageFrame(msg types.Message) *ServerFrame {
	f := &ServerFrame{
		Type:        FrameMessage,
		Timestamp:   msg.Timestamp,
		RoomId:      msg.RoomId,
		MessageType: msg.Type,
		Sender:      msg.Sender,
	}

	switch {
	case msg.Text != nil:
		f.Content = msg.Text.Content
	case msg.Location != nil:
		lat, lng := msg.Location.Latitude, msg.Location.Longitude
		f.Latitude = &lat
		f.Longitude = &lng
		f.Address = msg.Location.Address
	case msg.File != nil:
		f.FileUrl = msg.File.URL
		f.Filename = msg.File.Filename
		f.FileSize = msg.File.Size
		f.Caption = msg.File.Caption
	}

	return f
}

func ConnectionFrame(userId string, loginTime time.Time) *ServerFrame {
	return &ServerFrame{
		Type:      FrameConnection,
		Timestamp: Now(),
		Status:    "connected",
		Message:   fmt.Sprintf("Welcome %s!", userId),
		UserId:    userId,
		LoginTime: &loginTime,
	}
}

func RoomsListFrame(rooms []types.RoomSummary) *ServerFrame {
	return &ServerFrame{
		Type:      FrameRoomsList,
		Timestamp: Now(),
		Rooms:     rooms,
		Count:     len(rooms),
	}
}

func ChatHistoryFrame(roomId string, msgs []types.Message) *ServerFrame {
	frames := make([]*ServerFrame, len(msgs))
	for i, msg := range msgs {
		frames[i] = MessageFrame(msg)
	}

	return &ServerFrame{
		Type:      FrameChatHistory,
		Timestamp: Now(),
		RoomId:    roomId,
		Messages:  frames,
		Count:     len(frames),
	}
}

func OnlineUsersFrame(users []string) *ServerFrame {
	return &ServerFrame{
		Type:      FrameOnlineUsers,
		Timestamp: Now(),
		Users:     users,
		Count:     len(users),
	}
}

func UserJoinedFrame(userId string) *ServerFrame {
	return &ServerFrame{
		Type:      FrameUserJoined,
		Timestamp: Now(),
		UserId:    userId,
		Message:   fmt.Sprintf("%s joined the chat", userId),
	}
}

func UserLeftFrame(userId string) *ServerFrame {
	return &ServerFrame{
		Type:      FrameUserLeft,
		Timestamp: Now(),
		UserId:    userId,
		Message:   fmt.Sprintf("%s left the chat", userId),
	}
}

func ErrAccessDenied(roomId string) *ServerFrame {
	return &ServerFrame{
		Type:      FrameError,
		Timestamp: Now(),
		RoomId:    roomId,
		Message:   "Access denied to this room",
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
