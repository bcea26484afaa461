package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/internal/testutil"
	"github.com/chatrelay/chatrelay/internal/types"
	"github.com/chatrelay/chatrelay/internal/upload"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// stubHandle stands in for a live connection when a test only needs a
// user to count as online.
type stubHandle struct{}

func (stubHandle) QueueFrame(*server.ServerFrame) bool { return true }
func (stubHandle) Close()                              {}

func newTestApp(t *testing.T) (*ChatRelayApp, *server.ChatServer) {
	t.Helper()

	logger := testutil.TestLogger(t)
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := server.NewChatServer(logger, su, server.Options{})
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}

	store, err := upload.NewStore(logger, t.TempDir(), "http://localhost:8000")
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	app := NewChatRelayApp(http.NewServeMux(), logger, cs, store, &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return app, cs
}

func (s *ChatRelayApp) doJson(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.mux.Handler.ServeHTTP(rr, req)

	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

func TestRoot(t *testing.T) {
	app, _ := newTestApp(t)

	rr := app.doJson(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "chatrelay", body["name"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(1), body["total_rooms"], "expected the public room counted")
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	rr := app.doJson(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "healthy", body["status"])
}

func TestCreatePrivateRoomHandler(t *testing.T) {
	t.Run("creates and returns the room", func(t *testing.T) {
		app, _ := newTestApp(t)

		rr := app.doJson(t, http.MethodPost, "/api/rooms/private",
			CreatePrivateRoomRequest{User1: "alice", User2: "bob"})
		assert.Equal(t, http.StatusOK, rr.Code)

		room := decodeBody[RoomResponse](t, rr)
		assert.NotEmpty(t, room.RoomId)
		assert.Equal(t, types.RoomPrivate, room.Type)
		assert.ElementsMatch(t, []string{"alice", "bob"}, room.Members)
		assert.Equal(t, 2, room.MemberCount)
	})

	t.Run("is idempotent for the pair", func(t *testing.T) {
		app, _ := newTestApp(t)

		first := decodeBody[RoomResponse](t, app.doJson(t, http.MethodPost, "/api/rooms/private",
			CreatePrivateRoomRequest{User1: "alice", User2: "bob"}))
		second := decodeBody[RoomResponse](t, app.doJson(t, http.MethodPost, "/api/rooms/private",
			CreatePrivateRoomRequest{User1: "bob", User2: "alice"}))

		assert.Equal(t, first.RoomId, second.RoomId, "expected the same room for the reversed pair")
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		app, _ := newTestApp(t)

		tt := []struct {
			name string
			req  CreatePrivateRoomRequest
		}{
			{"missing user", CreatePrivateRoomRequest{User1: "alice"}},
			{"same user twice", CreatePrivateRoomRequest{User1: "alice", User2: "alice"}},
			{"empty", CreatePrivateRoomRequest{}},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				rr := app.doJson(t, http.MethodPost, "/api/rooms/private", tc.req)
				assert.Equal(t, http.StatusBadRequest, rr.Code)
			})
		}
	})
}

func TestCreateGroupRoomHandler(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("creates and returns the room", func(t *testing.T) {
		rr := app.doJson(t, http.MethodPost, "/api/rooms/group",
			CreateGroupRoomRequest{Members: []string{"alice", "bob", "carol"}, Name: "team"})
		assert.Equal(t, http.StatusCreated, rr.Code)

		room := decodeBody[RoomResponse](t, rr)
		assert.Equal(t, types.RoomGroup, room.Type)
		assert.Equal(t, "team", room.Name)
		assert.Equal(t, 3, room.MemberCount)
	})

	t.Run("rejects fewer than two members", func(t *testing.T) {
		rr := app.doJson(t, http.MethodPost, "/api/rooms/group",
			CreateGroupRoomRequest{Members: []string{"alice"}, Name: "solo"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetUserRoomsHandler(t *testing.T) {
	app, cs := newTestApp(t)

	t.Run("requires user_id", func(t *testing.T) {
		rr := app.doJson(t, http.MethodGet, "/api/rooms", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("lists the user's rooms", func(t *testing.T) {
		cs.Directory.Join("alice", server.PublicRoomId)
		roomId, err := cs.Directory.CreateRoom(types.RoomGroup, []string{"alice", "bob"}, "team")
		assert.NoError(t, err)

		rr := app.doJson(t, http.MethodGet, "/api/rooms?user_id=alice", nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		body := decodeBody[UserRoomsResponse](t, rr)
		assert.Equal(t, "alice", body.UserId)
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, server.PublicRoomId, body.Rooms[0].RoomId, "expected the public room first")
		assert.Equal(t, roomId, body.Rooms[1].RoomId)
	})
}

func TestGetRoomHistoryHandler(t *testing.T) {
	app, cs := newTestApp(t)

	cs.Registry.Register("alice", stubHandle{})
	cs.Directory.Join("alice", server.PublicRoomId)
	cs.Messages.Append(server.PublicRoomId, types.Message{
		Type:      types.MessageText,
		Sender:    "alice",
		RoomId:    server.PublicRoomId,
		Timestamp: server.Now().Add(time.Minute),
		Text:      &types.TextPayload{Content: "hello"},
	})

	t.Run("requires room_id and user_id", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, app.doJson(t, http.MethodGet, "/api/rooms/history", nil).Code)
		assert.Equal(t, http.StatusBadRequest, app.doJson(t, http.MethodGet, "/api/rooms/history?room_id=public", nil).Code)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		rr := app.doJson(t, http.MethodGet, "/api/rooms/history?room_id=public&user_id=alice&limit=nope", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = app.doJson(t, http.MethodGet, "/api/rooms/history?room_id=public&user_id=alice&limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("forbids non-members", func(t *testing.T) {
		rr := app.doJson(t, http.MethodGet, "/api/rooms/history?room_id=public&user_id=mallory", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("returns filtered history", func(t *testing.T) {
		rr := app.doJson(t, http.MethodGet, "/api/rooms/history?room_id=public&user_id=alice", nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		body := decodeBody[HistoryResponse](t, rr)
		assert.Equal(t, server.PublicRoomId, body.RoomId)
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, "hello", body.Messages[0].Content)
		assert.Equal(t, "alice", body.Messages[0].Sender)
	})
}

func TestGetOnlineUsersHandler(t *testing.T) {
	app, cs := newTestApp(t)

	rr := app.doJson(t, http.MethodGet, "/api/users/online", nil)
	body := decodeBody[OnlineUsersResponse](t, rr)
	assert.Zero(t, body.Count)

	cs.Registry.Register("bob", stubHandle{})
	cs.Registry.Register("alice", stubHandle{})

	rr = app.doJson(t, http.MethodGet, "/api/users/online", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	body = decodeBody[OnlineUsersResponse](t, rr)
	assert.Equal(t, []string{"alice", "bob"}, body.OnlineUsers)
	assert.Equal(t, 2, body.Count)
}

func TestUploadFileHandler(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("stores the upload", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "photo.png")
		assert.NoError(t, err)
		_, err = part.Write([]byte("fake png bytes"))
		assert.NoError(t, err)
		assert.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		app.mux.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		saved := decodeBody[upload.SavedFile](t, rr)
		assert.Equal(t, "photo.png", saved.Filename)
		assert.Equal(t, int64(len("fake png bytes")), saved.Size)
		assert.Contains(t, saved.URL, "/uploads/")

		// the stored file is served back by the file endpoint
		get := app.doJson(t, http.MethodGet, "/uploads/"+saved.SavedFilename, nil)
		assert.Equal(t, http.StatusOK, get.Code)
		assert.Equal(t, "fake png bytes", get.Body.String())
	})

	t.Run("rejects a request without a file part", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		assert.NoError(t, mw.WriteField("note", "no file here"))
		assert.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		app.mux.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetFileHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rr := app.doJson(t, http.MethodGet, "/uploads/nope.png", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeWs(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("rejects a missing user id", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
		assert.NoError(t, err, "expected the upgrade itself to succeed")
		defer conn.Close()

		_, _, err = conn.ReadMessage()
		closeErr, ok := err.(*websocket.CloseError)
		assert.True(t, ok, "expected a close frame, got %v", err)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	})

	t.Run("runs the connect bracket", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?user_id=alice", nil)
		assert.NoError(t, err)
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var welcome server.ServerFrame
		assert.NoError(t, conn.ReadJSON(&welcome))
		assert.Equal(t, server.FrameConnection, welcome.Type)
		assert.Equal(t, "alice", welcome.UserId)
		assert.Equal(t, "Welcome alice!", welcome.Message)

		var rooms server.ServerFrame
		assert.NoError(t, conn.ReadJSON(&rooms))
		assert.Equal(t, server.FrameRoomsList, rooms.Type)
		assert.Equal(t, server.PublicRoomId, rooms.Rooms[0].RoomId)

		// sending a message comes straight back, alice being a public
		// room member herself
		assert.NoError(t, conn.WriteJSON(map[string]string{"content": "hi"}))

		for {
			var f server.ServerFrame
			assert.NoError(t, conn.ReadJSON(&f))
			if f.Type != server.FrameMessage {
				continue
			}
			assert.Equal(t, "hi", f.Content)
			assert.Equal(t, "alice", f.Sender)
			break
		}
	})
}
