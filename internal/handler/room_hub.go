package handler

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// =============================================================================
// Room Hub - 미팅 단위 WebSocket 연결 관리
// =============================================================================

// RoomHub 모든 미팅 방과 그 연결을 관리한다
type RoomHub struct {
	rooms map[string]*Room // meetingCode -> Room
	mu    sync.RWMutex
}

// Room 미팅 하나의 접속자 집합
type Room struct {
	Code    string
	clients map[*websocket.Conn]*Client
	mu      sync.RWMutex
	hub     *RoomHub
}

// Client 방에 접속한 참가자 연결 하나.
// writeMu가 같은 커넥션에 대한 동시 쓰기를 직렬화한다.
type Client struct {
	UserID   int64
	Username string
	IsHost   bool
	Conn     *websocket.Conn
	writeMu  sync.Mutex
}

// Event 방 안을 오가는 WebSocket 메시지
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent 페이로드를 직렬화해 이벤트 생성
func NewEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[RoomHub] Failed to marshal %s payload: %v", eventType, err)
		return Event{Type: eventType}
	}
	return Event{Type: eventType, Payload: data}
}

// NewRoomHub RoomHub 생성
func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom 방 조회 또는 생성
func (h *RoomHub) GetOrCreateRoom(meetingCode string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[meetingCode]; exists {
		return room
	}

	room := &Room{
		Code:    meetingCode,
		clients: make(map[*websocket.Conn]*Client),
		hub:     h,
	}
	h.rooms[meetingCode] = room
	log.Printf("[RoomHub] Created room: %s", meetingCode)

	return room
}

// Peek 방이 존재하면 반환, 없으면 nil
func (h *RoomHub) Peek(meetingCode string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[meetingCode]
}

// RemoveRoom 방 제거 (남은 연결은 닫는다)
func (h *RoomHub) RemoveRoom(meetingCode string) {
	h.mu.Lock()
	room, exists := h.rooms[meetingCode]
	if exists {
		delete(h.rooms, meetingCode)
	}
	h.mu.Unlock()

	if !exists {
		return
	}

	room.mu.Lock()
	for conn := range room.clients {
		conn.Close()
	}
	room.clients = make(map[*websocket.Conn]*Client)
	room.mu.Unlock()

	log.Printf("[RoomHub] Removed room: %s", meetingCode)
}

// =============================================================================
// Room Methods
// =============================================================================

// AddClient 방에 연결 등록
func (r *Room) AddClient(conn *websocket.Conn, userID int64, username string, isHost bool) *Client {
	client := &Client{
		UserID:   userID,
		Username: username,
		IsHost:   isHost,
		Conn:     conn,
	}

	r.mu.Lock()
	r.clients[conn] = client
	total := len(r.clients)
	r.mu.Unlock()

	log.Printf("[Room %s] Added client: user=%d (%s), total: %d", r.Code, userID, username, total)
	return client
}

// RemoveClient 방에서 연결 제거. 방이 비면 허브에서도 정리한다.
func (r *Room) RemoveClient(conn *websocket.Conn) {
	r.mu.Lock()
	client, exists := r.clients[conn]
	if exists {
		delete(r.clients, conn)
	}
	remaining := len(r.clients)
	r.mu.Unlock()

	if !exists {
		return
	}

	log.Printf("[Room %s] Removed client: user=%d, remaining: %d", r.Code, client.UserID, remaining)

	if remaining == 0 {
		go r.hub.RemoveRoom(r.Code)
	}
}

// Users 현재 접속 중인 참가자 userID 목록
func (r *Room) Users() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(r.clients))
	for _, c := range r.clients {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			ids = append(ids, c.UserID)
		}
	}
	return ids
}

// snapshot 잠금 밖에서 순회할 클라이언트 목록 복사
func (r *Room) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast 발신자를 제외한 모든 접속자에게 전송
func (r *Room) Broadcast(event Event, senderUserID int64) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Room %s] Failed to marshal event: %v", r.Code, err)
		return
	}

	for _, client := range r.snapshot() {
		if client.UserID == senderUserID {
			continue
		}
		client.send(data)
	}
}

// BroadcastAll 발신자를 포함한 모든 접속자에게 전송
func (r *Room) BroadcastAll(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Room %s] Failed to marshal event: %v", r.Code, err)
		return
	}

	for _, client := range r.snapshot() {
		client.send(data)
	}
}

// SendToUser 특정 참가자에게만 전송 (릴레이, 히스토리 응답용).
// 대상이 방에 없으면 false를 반환한다.
func (r *Room) SendToUser(userID int64, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Room %s] Failed to marshal event: %v", r.Code, err)
		return false
	}

	sent := false
	for _, client := range r.snapshot() {
		if client.UserID == userID {
			client.send(data)
			sent = true
		}
	}
	return sent
}

// Send 이 클라이언트에게 이벤트 전송
func (c *Client) Send(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[RoomHub] Failed to marshal event: %v", err)
		return
	}
	c.send(data)
}

func (c *Client) send(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[RoomHub] Failed to send to user %d: %v", c.UserID, err)
	}
}
