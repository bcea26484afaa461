package server

import (
	"encoding/json"
	"testing"

	"github.com/chatrelay/chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestParseClientFrame(t *testing.T) {
	t.Run("applies wire defaults", func(t *testing.T) {
		f, err := parseClientFrame([]byte(`{"content":"hi"}`))
		assert.NoError(t, err)
		assert.Equal(t, PublicRoomId, f.RoomId, "expected room to default to public")
		assert.Equal(t, "text", f.MessageType, "expected type to default to text")
		assert.Equal(t, "hi", f.Content)
	})

	t.Run("keeps explicit fields", func(t *testing.T) {
		f, err := parseClientFrame([]byte(`{"room_id":"side","message_type":"image","file_url":"/uploads/x.png"}`))
		assert.NoError(t, err)
		assert.Equal(t, "side", f.RoomId)
		assert.Equal(t, "image", f.MessageType)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := parseClientFrame([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestClientFrameMessage(t *testing.T) {
	lat, lng := 51.5, -0.12
	ts := Now()

	tt := []struct {
		name    string
		frame   ClientFrame
		wantErr bool
		check   func(t *testing.T, msg types.Message)
	}{
		{
			name:  "text",
			frame: ClientFrame{RoomId: PublicRoomId, MessageType: "text", Content: "  hello  "},
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, "hello", msg.Text.Content, "expected trimmed content")
				assert.Nil(t, msg.Location)
				assert.Nil(t, msg.File)
			},
		},
		{
			name:    "text without content",
			frame:   ClientFrame{RoomId: PublicRoomId, MessageType: "text", Content: "   "},
			wantErr: true,
		},
		{
			name: "location",
			frame: ClientFrame{
				RoomId: PublicRoomId, MessageType: "location",
				Latitude: &lat, Longitude: &lng, Address: "London",
			},
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, 51.5, msg.Location.Latitude)
				assert.Equal(t, -0.12, msg.Location.Longitude)
				assert.Equal(t, "London", msg.Location.Address)
			},
		},
		{
			name: "location defaults address",
			frame: ClientFrame{
				RoomId: PublicRoomId, MessageType: "location",
				Latitude: &lat, Longitude: &lng,
			},
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, "Location", msg.Location.Address)
			},
		},
		{
			name:    "location missing a coordinate",
			frame:   ClientFrame{RoomId: PublicRoomId, MessageType: "location", Latitude: &lat},
			wantErr: true,
		},
		{
			name: "image",
			frame: ClientFrame{
				RoomId: PublicRoomId, MessageType: "image",
				FileUrl: "/uploads/x.png", Filename: "x.png", FileSize: 42, Caption: "pic",
			},
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, "/uploads/x.png", msg.File.URL)
				assert.Equal(t, "x.png", msg.File.Filename)
				assert.Equal(t, int64(42), msg.File.Size)
				assert.Equal(t, "pic", msg.File.Caption)
			},
		},
		{
			name:  "file defaults filename",
			frame: ClientFrame{RoomId: PublicRoomId, MessageType: "document", FileUrl: "/uploads/doc.pdf"},
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, "file", msg.File.Filename)
			},
		},
		{
			name:    "file kind without url",
			frame:   ClientFrame{RoomId: PublicRoomId, MessageType: "video", Caption: "no url"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			frame:   ClientFrame{RoomId: PublicRoomId, MessageType: "sticker", Content: "x"},
			wantErr: true,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := tc.frame.Message("alice", ts)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, "alice", msg.Sender)
			assert.Equal(t, PublicRoomId, msg.RoomId)
			assert.Equal(t, ts, msg.Timestamp)
			tc.check(t, msg)
		})
	}
}

func TestMessageFrameVariants(t *testing.T) {
	t.Run("location", func(t *testing.T) {
		f := MessageFrame(types.Message{
			Type: types.MessageLocation, Sender: "alice", RoomId: "side", Timestamp: Now(),
			Location: &types.LocationPayload{Latitude: 1.5, Longitude: 2.5, Address: "here"},
		})
		assert.Equal(t, FrameMessage, f.Type)
		assert.Equal(t, types.MessageLocation, f.MessageType)
		assert.Equal(t, 1.5, *f.Latitude)
		assert.Equal(t, 2.5, *f.Longitude)
		assert.Equal(t, "here", f.Address)
		assert.Empty(t, f.Content)
	})

	t.Run("file", func(t *testing.T) {
		f := MessageFrame(types.Message{
			Type: types.MessageImage, Sender: "alice", RoomId: "side", Timestamp: Now(),
			File: &types.FilePayload{URL: "/uploads/x.png", Filename: "x.png", Size: 9, Caption: "pic"},
		})
		assert.Equal(t, types.MessageImage, f.MessageType)
		assert.Equal(t, "/uploads/x.png", f.FileUrl)
		assert.Equal(t, "x.png", f.Filename)
		assert.Equal(t, int64(9), f.FileSize)
		assert.Equal(t, "pic", f.Caption)
	})
}

func TestListFrames(t *testing.T) {
	t.Run("chat history", func(t *testing.T) {
		f := ChatHistoryFrame("side", []types.Message{
			textMessage("alice", "side", "one"),
			textMessage("bob", "side", "two"),
		})
		assert.Equal(t, FrameChatHistory, f.Type)
		assert.Equal(t, "side", f.RoomId)
		assert.Equal(t, 2, f.Count)
		assert.Equal(t, "one", f.Messages[0].Content)
		assert.Equal(t, "two", f.Messages[1].Content)
	})

	t.Run("online users", func(t *testing.T) {
		f := OnlineUsersFrame([]string{"alice", "bob"})
		assert.Equal(t, FrameOnlineUsers, f.Type)
		assert.Equal(t, []string{"alice", "bob"}, f.Users)
		assert.Equal(t, 2, f.Count)
	})

	t.Run("empty list still carries count", func(t *testing.T) {
		raw, err := json.Marshal(OnlineUsersFrame(nil))
		assert.NoError(t, err)

		var decoded map[string]any
		assert.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Contains(t, decoded, "count", "expected a zero count on the wire, not a missing field")
		assert.Equal(t, float64(0), decoded["count"])
	})

	t.Run("presence notices", func(t *testing.T) {
		joined := UserJoinedFrame("alice")
		assert.Equal(t, FrameUserJoined, joined.Type)
		assert.Equal(t, "alice", joined.UserId)
		assert.Equal(t, "alice joined the chat", joined.Message)

		left := UserLeftFrame("alice")
		assert.Equal(t, FrameUserLeft, left.Type)
		assert.Equal(t, "alice left the chat", left.Message)
	})

	t.Run("connection", func(t *testing.T) {
		loginTime := Now()
		f := ConnectionFrame("alice", loginTime)
		assert.Equal(t, FrameConnection, f.Type)
		assert.Equal(t, "connected", f.Status)
		assert.Equal(t, "Welcome alice!", f.Message)
		assert.Equal(t, loginTime, *f.LoginTime)
	})
}
