package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"

	"drawmeet-backend/internal/board"
	"drawmeet-backend/internal/cache"
	"drawmeet-backend/internal/config"
	"drawmeet-backend/internal/model"
	"drawmeet-backend/internal/presence"
	"drawmeet-backend/internal/service"
	"drawmeet-backend/internal/session"
	"drawmeet-backend/internal/signal"
)

// BoardWSHandler 미팅 보드 WebSocket 핸들러.
// 연결 하나당 세션 하나를 만들고 join_room에서 방 컨텍스트를 바인딩한 뒤
// 모든 방 스코프 이벤트를 타입별로 디스패치한다.
type BoardWSHandler struct {
	svc         *service.MeetingService
	hub         *RoomHub
	registry    *board.Registry
	redisClient *cache.RedisClient
	presenceMgr *presence.Manager
	cfg         *config.Config
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(svc *service.MeetingService, hub *RoomHub, registry *board.Registry, redisClient *cache.RedisClient, presenceMgr *presence.Manager, cfg *config.Config) *BoardWSHandler {
	return &BoardWSHandler{
		svc:         svc,
		hub:         hub,
		registry:    registry,
		redisClient: redisClient,
		presenceMgr: presenceMgr,
		cfg:         cfg,
	}
}

// joinPayload join_room 요청. Silent가 켜지면 user_joined를 알리지 않는다
// (재접속 등 다른 참가자에게 보일 필요 없는 입장).
type joinPayload struct {
	MeetingCode string `json:"meeting_code,omitempty"`
	LinkToken   string `json:"link_token,omitempty"`
	Password    string `json:"password,omitempty"`
	Silent      bool   `json:"silent,omitempty"`
}

// leavePayload leave_room 요청
type leavePayload struct {
	Silent bool `json:"silent,omitempty"`
}

// statusPayload meeting_status 브로드캐스트
type statusPayload struct {
	MeetingCode   string `json:"meeting_code"`
	Status        string `json:"status,omitempty"`
	IsChatEnabled *bool  `json:"is_chat_enabled,omitempty"`
	TargetUserID  int64  `json:"target_user_id,omitempty"`
	Permission    string `json:"permission,omitempty"`
	CanChat       *bool  `json:"can_chat,omitempty"`
}

// userEventPayload user_joined / user_left
type userEventPayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsHost   bool   `json:"is_host"`
}

// chatPayload chat_message
type chatPayload struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Msg       string    `json:"msg"`
	Timestamp time.Time `json:"timestamp"`
}

// historyPayload history / canvas_sync
type historyPayload struct {
	Operations []board.Operation   `json:"operations"`
	Chat       []cache.ChatMessage `json:"chat,omitempty"`
}

// errorPayload error 이벤트
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// relayedSignal 릴레이되는 협상 메시지. 수신 측의 polite 역할을 서버가
// 계산해 붙여주므로 양쪽 피어가 항상 같은 역할 판정을 공유한다.
type relayedSignal struct {
	Kind    string          `json:"type"`
	From    int64           `json:"from"`
	Polite  bool            `json:"polite"`
	Payload json.RawMessage `json:"payload"`
}

// HandleWebSocket WebSocket 연결 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	userIDVal := c.Locals("userID")
	nicknameVal := c.Locals("nickname")

	userID, ok1 := userIDVal.(int64)
	nickname, ok2 := nicknameVal.(string)
	if !ok1 || !ok2 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"UNAUTHORIZED","message":"invalid session"}}`))
		c.Close()
		return
	}

	sess := session.New()
	log.Printf("[BoardWS] Connected: user=%d session=%s", userID, sess.ID)

	defer h.teardown(c, sess, userID)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var event Event
		if err := json.Unmarshal(msgBytes, &event); err != nil {
			continue
		}

		h.dispatch(c, sess, userID, nickname, event)
	}
}

// dispatch 이벤트 타입별 분기. join_room 전에는 방 스코프 이벤트를 거부한다.
func (h *BoardWSHandler) dispatch(c *websocket.Conn, sess *session.Session, userID int64, nickname string, event Event) {
	if event.Type == "join_room" {
		h.handleJoin(c, sess, userID, nickname, event.Payload)
		return
	}

	ctx, err := sess.Bound()
	if err != nil {
		h.sendError(c, "SESSION_NOT_BOUND", "join a room first")
		return
	}

	room := h.hub.Peek(ctx.MeetingCode)
	if room == nil {
		h.sendError(c, "SESSION_NOT_BOUND", "room is gone")
		sess.Unbind()
		return
	}

	switch event.Type {
	case "leave_room":
		h.handleLeave(c, sess, ctx, room, event.Payload)
	case "canvas_operation":
		h.handleOperation(c, ctx, room, event.Payload)
	case "undo":
		h.handleUndo(c, ctx, room)
	case "redo":
		h.handleRedo(c, ctx, room)
	case "clear_canvas":
		h.handleClear(c, ctx, room)
	case "request_history":
		h.handleHistory(c, ctx, room)
	case "chat_message":
		h.handleChat(c, ctx, room, event.Payload)
	case "offer", "answer", "ice_candidate":
		h.handleSignal(ctx, room, event.Type, event.Payload)
	case "cursor_move", "cursor_leave":
		h.handleCursor(ctx, room, event.Type, event.Payload)
	case "toggle_chat":
		h.handleToggleChat(c, ctx, room, event.Payload)
	case "set_can_chat":
		h.handleSetCanChat(c, ctx, room, event.Payload)
	case "set_permission":
		h.handleSetPermission(c, ctx, room, event.Payload)
	case "end_meeting":
		h.handleEnd(c, ctx, room)
	case "heartbeat":
		if h.presenceMgr != nil {
			h.presenceMgr.UpdateHeartbeat(ctx.UserID)
		}
	default:
		h.sendError(c, "UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

// =============================================================================
// Join / Leave
// =============================================================================

func (h *BoardWSHandler) handleJoin(c *websocket.Conn, sess *session.Session, userID int64, nickname string, payload json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(c, "BAD_PAYLOAD", "invalid join payload")
		return
	}

	if _, err := sess.Bound(); err == nil {
		h.sendError(c, "ALREADY_JOINED", "session is already bound to a room")
		return
	}

	var (
		meeting *model.Meeting
		err     error
	)
	if req.LinkToken != "" {
		meeting, _, err = h.svc.JoinByLink(req.LinkToken, userID)
	} else {
		meeting, _, err = h.svc.Join(req.MeetingCode, req.Password, userID)
	}
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	isHost := meeting.HostID == userID
	if _, err := sess.Bind(userID, nickname, meeting.Code, isHost); err != nil {
		h.sendError(c, "ALREADY_JOINED", "session is already bound to a room")
		return
	}

	room := h.hub.GetOrCreateRoom(meeting.Code)
	room.AddClient(c, userID, nickname, isHost)

	if h.presenceMgr != nil {
		if err := h.presenceMgr.SetPresence(userID, nickname, meeting.Code, ""); err != nil {
			log.Printf("[BoardWS] Presence set failed for user %d: %v", userID, err)
		}
	}

	if !req.Silent {
		room.Broadcast(NewEvent("user_joined", userEventPayload{
			UserID:   userID,
			Username: nickname,
			IsHost:   isHost,
		}), userID)
	}

	// 입장자에게 현재 상태 전체를 동기화
	state := h.registry.Get(meeting.Code)
	enabled := meeting.IsChatEnabled
	room.SendToUser(userID, NewEvent("meeting_status", statusPayload{
		MeetingCode:   meeting.Code,
		Status:        meeting.Status,
		IsChatEnabled: &enabled,
	}))
	room.SendToUser(userID, NewEvent("history", historyPayload{
		Operations: state.Snapshot(),
		Chat:       h.recentChat(meeting.Code),
	}))

	log.Printf("[BoardWS] user=%d joined meeting=%s (host=%v)", userID, meeting.Code, isHost)
}

func (h *BoardWSHandler) handleLeave(c *websocket.Conn, sess *session.Session, ctx *session.Context, room *Room, payload json.RawMessage) {
	var req leavePayload
	if len(payload) > 0 {
		json.Unmarshal(payload, &req)
	}

	if err := h.svc.Leave(ctx.MeetingCode, ctx.UserID); err != nil {
		h.sendServiceError(c, err)
		return
	}

	room.RemoveClient(c)
	if !req.Silent {
		room.Broadcast(NewEvent("user_left", userEventPayload{
			UserID:   ctx.UserID,
			Username: ctx.Username,
			IsHost:   ctx.IsHost,
		}), ctx.UserID)
	}

	if h.presenceMgr != nil {
		h.presenceMgr.RemovePresence(ctx.UserID)
	}
	sess.Unbind()
}

// teardown 연결 종료 시 정리. 로스터는 건드리지 않는다. 끊긴 참가자는
// 재접속해 같은 항목으로 돌아올 수 있고, 방 상태도 유지된다.
func (h *BoardWSHandler) teardown(c *websocket.Conn, sess *session.Session, userID int64) {
	if ctx, err := sess.Bound(); err == nil {
		if room := h.hub.Peek(ctx.MeetingCode); room != nil {
			room.RemoveClient(c)
			room.Broadcast(NewEvent("user_left", userEventPayload{
				UserID:   ctx.UserID,
				Username: ctx.Username,
				IsHost:   ctx.IsHost,
			}), ctx.UserID)
		}
		if h.presenceMgr != nil {
			h.presenceMgr.RemovePresence(ctx.UserID)
		}
	}

	c.Close()
	log.Printf("[BoardWS] Disconnected: user=%d session=%s (connected %s)", userID, sess.ID, sess.Duration().Round(time.Second))
}

// =============================================================================
// Canvas
// =============================================================================

func (h *BoardWSHandler) handleOperation(c *websocket.Conn, ctx *session.Context, room *Room, payload json.RawMessage) {
	var op board.Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		h.sendError(c, "BAD_PAYLOAD", "invalid operation payload")
		return
	}

	if err := h.authorizeEdit(ctx); err != nil {
		h.sendServiceError(c, err)
		return
	}

	stamped := board.Stamp(op, ctx.UserID, ctx.Username)
	h.registry.Get(ctx.MeetingCode).Append(stamped)

	room.Broadcast(NewEvent("canvas_operation", stamped), ctx.UserID)
}

func (h *BoardWSHandler) handleUndo(c *websocket.Conn, ctx *session.Context, room *Room) {
	if err := h.authorizeEdit(ctx); err != nil {
		h.sendServiceError(c, err)
		return
	}

	ops, ok := h.registry.Get(ctx.MeetingCode).Undo()
	if !ok {
		return // 빈 로그의 undo는 조용한 no-op
	}

	// 전체 로그 재동기화: 모든 접속자가 같은 순서로 다시 그린다
	room.BroadcastAll(NewEvent("canvas_sync", historyPayload{Operations: ops}))
}

func (h *BoardWSHandler) handleRedo(c *websocket.Conn, ctx *session.Context, room *Room) {
	if err := h.authorizeEdit(ctx); err != nil {
		h.sendServiceError(c, err)
		return
	}

	ops, ok := h.registry.Get(ctx.MeetingCode).Redo()
	if !ok {
		return
	}

	room.BroadcastAll(NewEvent("canvas_sync", historyPayload{Operations: ops}))
}

func (h *BoardWSHandler) handleClear(c *websocket.Conn, ctx *session.Context, room *Room) {
	if err := h.authorizeEdit(ctx); err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.registry.Get(ctx.MeetingCode).Clear()
	room.BroadcastAll(NewEvent("canvas_cleared", userEventPayload{
		UserID:   ctx.UserID,
		Username: ctx.Username,
	}))
}

func (h *BoardWSHandler) handleHistory(c *websocket.Conn, ctx *session.Context, room *Room) {
	state := h.registry.Get(ctx.MeetingCode)
	room.SendToUser(ctx.UserID, NewEvent("history", historyPayload{
		Operations: state.Snapshot(),
		Chat:       h.recentChat(ctx.MeetingCode),
	}))
}

// authorizeEdit 편집 게이트. 강제 모드가 꺼져 있으면 모두 통과한다.
func (h *BoardWSHandler) authorizeEdit(ctx *session.Context) error {
	if !h.cfg.Board.EnforceEditPermission || ctx.IsHost {
		return nil
	}

	meeting, err := h.svc.Get(ctx.MeetingCode)
	if err != nil {
		return err
	}
	participant, err := h.svc.ParticipantOf(meeting, ctx.UserID)
	if err != nil {
		return err
	}
	return service.CanEdit(participant, ctx.IsHost, true)
}

// =============================================================================
// Chat
// =============================================================================

func (h *BoardWSHandler) handleChat(c *websocket.Conn, ctx *session.Context, room *Room, payload json.RawMessage) {
	var req struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Msg == "" {
		h.sendError(c, "BAD_PAYLOAD", "invalid chat payload")
		return
	}
	if len(req.Msg) > 2000 {
		req.Msg = req.Msg[:2000]
	}

	if err := h.svc.SendMessage(ctx.MeetingCode, ctx.UserID, ctx.Username, req.Msg); err != nil {
		// 거부는 발신자에게만 알린다
		h.sendServiceError(c, err)
		return
	}

	now := time.Now()
	room.BroadcastAll(NewEvent("chat_message", chatPayload{
		UserID:    ctx.UserID,
		Username:  ctx.Username,
		Msg:       req.Msg,
		Timestamp: now,
	}))

	if h.redisClient != nil {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.redisClient.AddChatMessage(cacheCtx, &cache.ChatMessage{
				MeetingCode: ctx.MeetingCode,
				UserID:      ctx.UserID,
				Username:    ctx.Username,
				Msg:         req.Msg,
			})
		}()
	}
}

func (h *BoardWSHandler) recentChat(meetingCode string) []cache.ChatMessage {
	if h.redisClient == nil {
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	messages, err := h.redisClient.GetRecentMessages(cacheCtx, meetingCode, h.cfg.Board.ChatCacheMax)
	if err != nil {
		log.Printf("[BoardWS] Failed to load recent chat for %s: %v", meetingCode, err)
		return nil
	}
	return messages
}

// handleCursor 커서 이벤트 중계. 로그에 남지 않는 휘발성 이벤트지만
// 발신자 신원은 시그널링과 마찬가지로 세션 값으로 덮어쓴다 (위조 방지).
func (h *BoardWSHandler) handleCursor(ctx *session.Context, room *Room, kind string, payload json.RawMessage) {
	fields := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return
		}
	}
	fields["user_id"] = ctx.UserID
	fields["username"] = ctx.Username

	room.Broadcast(NewEvent(kind, fields), ctx.UserID)
}

// =============================================================================
// Signaling Relay
// =============================================================================

// handleSignal P2P 연결 협상 메시지 중계.
// 발신자 신원은 세션에서 가져와 덮어쓴다 (위조 방지). 형식이 깨졌거나
// 대상이 방에 없으면 조용히 폐기한다. 발신자 측 재시도에 맡긴다.
func (h *BoardWSHandler) handleSignal(ctx *session.Context, room *Room, kind string, payload json.RawMessage) {
	var env signal.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	env.Kind = kind
	env.From = ctx.UserID

	if err := env.Validate(); err != nil {
		log.Printf("[Signal %s] Dropped %s from user %d: %v", room.Code, kind, ctx.UserID, err)
		return
	}

	// 수신 측 기준 polite 역할 (사전순으로 작은 id가 polite)
	n := signal.NewNegotiator(strconv.FormatInt(env.To, 10), strconv.FormatInt(env.From, 10))

	delivered := room.SendToUser(env.To, NewEvent(kind, relayedSignal{
		Kind:    kind,
		From:    env.From,
		Polite:  n.Polite(),
		Payload: env.Payload,
	}))
	if !delivered {
		log.Printf("[Signal %s] Dropped %s: target user %d not in room", room.Code, kind, env.To)
	}
}

// =============================================================================
// Host Controls
// =============================================================================

func (h *BoardWSHandler) handleToggleChat(c *websocket.Conn, ctx *session.Context, room *Room, payload json.RawMessage) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(c, "BAD_PAYLOAD", "invalid toggle payload")
		return
	}

	meeting, err := h.svc.SetChatEnabled(ctx.MeetingCode, ctx.UserID, req.Enabled)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	enabled := meeting.IsChatEnabled
	room.BroadcastAll(NewEvent("meeting_status", statusPayload{
		MeetingCode:   meeting.Code,
		Status:        meeting.Status,
		IsChatEnabled: &enabled,
	}))
}

func (h *BoardWSHandler) handleSetCanChat(c *websocket.Conn, ctx *session.Context, room *Room, payload json.RawMessage) {
	var req struct {
		UserID  int64 `json:"user_id"`
		CanChat bool  `json:"can_chat"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(c, "BAD_PAYLOAD", "invalid mute payload")
		return
	}

	participant, err := h.svc.SetParticipantChat(ctx.MeetingCode, ctx.UserID, req.UserID, req.CanChat)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	room.BroadcastAll(NewEvent("meeting_status", statusPayload{
		MeetingCode:  ctx.MeetingCode,
		TargetUserID: participant.UserID,
		CanChat:      participant.CanChat,
	}))
}

func (h *BoardWSHandler) handleSetPermission(c *websocket.Conn, ctx *session.Context, room *Room, payload json.RawMessage) {
	var req struct {
		UserID     int64  `json:"user_id"`
		Permission string `json:"permission"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(c, "BAD_PAYLOAD", "invalid permission payload")
		return
	}

	perm := model.Permission(req.Permission)
	if !perm.Valid() {
		h.sendError(c, "BAD_PAYLOAD", "unknown permission: "+req.Permission)
		return
	}

	participant, err := h.svc.UpdatePermission(ctx.MeetingCode, ctx.UserID, req.UserID, perm)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	room.BroadcastAll(NewEvent("meeting_status", statusPayload{
		MeetingCode:  ctx.MeetingCode,
		TargetUserID: participant.UserID,
		Permission:   participant.Permission,
	}))
}

func (h *BoardWSHandler) handleEnd(c *websocket.Conn, ctx *session.Context, room *Room) {
	meeting, err := h.svc.End(ctx.MeetingCode, ctx.UserID)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	announceMeetingEnded(h.hub, h.redisClient, meeting)
}

// announceMeetingEnded 종료 후 공통 방 정리. REST 종료와 WS end_meeting이
// 같은 경로를 탄다: 접속자에게 종료를 알리고, 채팅 캐시를 비우고,
// 방을 허브에서 제거해 종료된 미팅의 방이 되살아나지 않게 한다.
func announceMeetingEnded(hub *RoomHub, redisClient *cache.RedisClient, meeting *model.Meeting) {
	if room := hub.Peek(meeting.Code); room != nil {
		room.BroadcastAll(NewEvent("meeting_ended", statusPayload{
			MeetingCode: meeting.Code,
			Status:      meeting.Status,
		}))
	}

	if redisClient != nil {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		redisClient.DeleteMeeting(cacheCtx, meeting.Code)
		cancel()
	}

	hub.RemoveRoom(meeting.Code)
}

// =============================================================================
// Errors
// =============================================================================

func (h *BoardWSHandler) sendError(c *websocket.Conn, code, message string) {
	data, _ := json.Marshal(Event{Type: "error", Payload: mustMarshal(errorPayload{Code: code, Message: message})})
	c.WriteMessage(websocket.TextMessage, data)
}

// sendServiceError 서비스 오류를 타입별 코드로 변환해 발신자에게만 전송
func (h *BoardWSHandler) sendServiceError(c *websocket.Conn, err error) {
	code := "INTERNAL"
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		code = "UNAUTHORIZED"
	case errors.Is(err, service.ErrInvalidTransition):
		code = "INVALID_TRANSITION"
	case errors.Is(err, service.ErrMeetingNotFound):
		code = "MEETING_NOT_FOUND"
	case errors.Is(err, service.ErrNotAMember):
		code = "NOT_A_MEMBER"
	case errors.Is(err, service.ErrParticipantNotFound):
		code = "PARTICIPANT_NOT_FOUND"
	case errors.Is(err, service.ErrHostCannotLeave):
		code = "HOST_CANNOT_LEAVE"
	case errors.Is(err, service.ErrWrongPassword):
		code = "WRONG_PASSWORD"
	case errors.Is(err, service.ErrChatDisabled):
		code = "CHAT_DISABLED"
	case errors.Is(err, service.ErrUserMuted):
		code = "USER_MUTED"
	case errors.Is(err, service.ErrEditNotAllowed):
		code = "EDIT_NOT_ALLOWED"
	}
	h.sendError(c, code, err.Error())
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
