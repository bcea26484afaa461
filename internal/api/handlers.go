package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/types"
	"github.com/gorilla/websocket"
)

const maxUploadSize = 32 << 20

type CreatePrivateRoomRequest struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type CreateGroupRoomRequest struct {
	Members []string `json:"members"`
	Name    string   `json:"name"`
}

type RoomResponse struct {
	RoomId      string         `json:"room_id"`
	Type        types.RoomType `json:"type"`
	Name        string         `json:"name"`
	Members     []string       `json:"members"`
	MemberCount int            `json:"member_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

type UserRoomsResponse struct {
	UserId string              `json:"user_id"`
	Rooms  []types.RoomSummary `json:"rooms"`
	Count  int                 `json:"count"`
}

type HistoryResponse struct {
	RoomId   string                `json:"room_id"`
	Messages []*server.ServerFrame `json:"messages"`
	Count    int                   `json:"count"`
}

type OnlineUsersResponse struct {
	OnlineUsers []string `json:"online_users"`
	Count       int      `json:"count"`
}

func (s *ChatRelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatRelayApp) root(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]any{
		"name":         "chatrelay",
		"version":      "4.0.0",
		"status":       "running",
		"active_users": s.cs.Registry.Count(),
		"total_rooms":  s.cs.Directory.Count(),
	})
}

func (s *ChatRelayApp) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"timestamp":          server.Now(),
		"active_connections": s.cs.Registry.Count(),
	})
}

func (s *ChatRelayApp) createPrivateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreatePrivateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.User1 == "" || req.User2 == "" || req.User1 == req.User2 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, err := s.cs.Directory.GetOrCreatePrivateRoom(req.User1, req.User2)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeRoom(w, http.StatusOK, roomId)
}

func (s *ChatRelayApp) createGroupRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if len(req.Members) < 2 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, err := s.cs.Directory.CreateRoom(types.RoomGroup, req.Members, req.Name)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeRoom(w, http.StatusCreated, roomId)
}

func (s *ChatRelayApp) writeRoom(w http.ResponseWriter, statusCode int, roomId string) {
	summary, ok := s.cs.Directory.Summary(roomId, "")
	if !ok {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members, _ := s.cs.Directory.Members(roomId)
	s.writeJson(w, statusCode, RoomResponse{
		RoomId:      summary.RoomId,
		Type:        summary.Type,
		Name:        summary.Name,
		Members:     members,
		MemberCount: summary.MemberCount,
		CreatedAt:   summary.CreatedAt,
	})
}

func (s *ChatRelayApp) getUserRooms(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("user_id")
	if userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := s.cs.Directory.RoomsOf(userId)
	s.writeJson(w, http.StatusOK, UserRoomsResponse{
		UserId: userId,
		Rooms:  rooms,
		Count:  len(rooms),
	})
}

func (s *ChatRelayApp) getRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("room_id")
	userId := r.URL.Query().Get("user_id")
	if roomId == "" || userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := s.cs.HistoryLimit()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if !s.cs.Directory.CanAccess(userId, roomId) {
		s.log.Printf("security: %q requested history for room %q without membership", userId, roomId)
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := s.cs.History.HistoryFor(userId, roomId, limit)
	frames := make([]*server.ServerFrame, len(messages))
	for i, msg := range messages {
		frames[i] = server.MessageFrame(msg)
	}

	s.writeJson(w, http.StatusOK, HistoryResponse{
		RoomId:   roomId,
		Messages: frames,
		Count:    len(frames),
	})
}

func (s *ChatRelayApp) getOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.cs.Registry.ListOnline()
	s.writeJson(w, http.StatusOK, OnlineUsersResponse{
		OnlineUsers: users,
		Count:       len(users),
	})
}

func (s *ChatRelayApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	saved, err := s.uploads.Save(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.log.Println("save upload:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, saved)
}

func (s *ChatRelayApp) getFile(w http.ResponseWriter, r *http.Request) {
	// the pattern guarantees a single path segment, so no traversal
	name := r.PathValue("filename")
	http.ServeFile(w, r, filepath.Join(s.uploads.Dir(), name))
}

func (s *ChatRelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	userId := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userId == "" {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid user_id"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := server.NewClient(userId, conn, s.cs, s.log)
	s.cs.Connect(client)
	go client.Write()
	go client.Read()
}
