package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"drawmeet-backend/internal/auth"
	"drawmeet-backend/internal/cache"
	"drawmeet-backend/internal/model"
	"drawmeet-backend/internal/presence"
	"drawmeet-backend/internal/service"
)

// MeetingHandler 미팅 핸들러
type MeetingHandler struct {
	svc         *service.MeetingService
	hub         *RoomHub
	redisClient *cache.RedisClient
	presenceMgr *presence.Manager
}

// NewMeetingHandler MeetingHandler 생성
func NewMeetingHandler(svc *service.MeetingService, hub *RoomHub, redisClient *cache.RedisClient, presenceMgr *presence.Manager) *MeetingHandler {
	return &MeetingHandler{svc: svc, hub: hub, redisClient: redisClient, presenceMgr: presenceMgr}
}

// MeetingResponse 미팅 응답
type MeetingResponse struct {
	ID            int64                 `json:"id"`
	Code          string                `json:"code"`
	HostID        int64                 `json:"host_id"`
	Title         string                `json:"title"`
	Status        string                `json:"status"`
	IsChatEnabled bool                  `json:"is_chat_enabled"`
	HasPassword   bool                  `json:"has_password"`
	CanvasID      int64                 `json:"canvas_id"`
	StartedAt     *string               `json:"started_at,omitempty"`
	EndedAt       *string               `json:"ended_at,omitempty"`
	Participants  []ParticipantResponse `json:"participants,omitempty"`
}

// ParticipantResponse 참가자 응답
type ParticipantResponse struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	Permission string  `json:"permission"`
	CanChat    *bool   `json:"can_chat,omitempty"`
	JoinedAt   string  `json:"joined_at"`
	LeftAt     *string `json:"left_at,omitempty"`
	Nickname   string  `json:"nickname,omitempty"`
	Online     bool    `json:"online"`
}

// CreateMeetingRequest 미팅 생성 요청
type CreateMeetingRequest struct {
	Title    string `json:"title"`
	Password string `json:"password,omitempty"`
	Instant  bool   `json:"instant,omitempty"` // true면 PENDING으로 생성 후 start로 공개
}

// JoinMeetingRequest 미팅 참가 요청
type JoinMeetingRequest struct {
	Password  string `json:"password,omitempty"`
	LinkToken string `json:"link_token,omitempty"`
}

// CreateMeeting 미팅 생성
func (h *MeetingHandler) CreateMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req CreateMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	req.Title = sanitizeTitle(req.Title)
	if len(req.Title) > 200 {
		req.Title = req.Title[:200]
	}

	meeting, err := h.svc.Create(claims.UserID, req.Title, req.Password, req.Instant)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create meeting",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"meeting":    toMeetingResponse(meeting),
		"link_token": meeting.LinkToken, // 생성 응답에만 노출 (호스트가 초대 링크 구성용)
	})
}

// GetMeeting 미팅 조회
func (h *MeetingHandler) GetMeeting(c *fiber.Ctx) error {
	meeting, err := h.svc.Get(c.Params("code"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toMeetingResponse(meeting))
}

// GetLinkInfo 초대 링크 토큰으로 미팅 미리보기 (참가 전 제목/상태 확인용)
func (h *MeetingHandler) GetLinkInfo(c *fiber.Ctx) error {
	meeting, err := h.svc.GetByLink(c.Params("token"))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"code":         meeting.Code,
		"title":        meeting.Title,
		"status":       meeting.Status,
		"has_password": meeting.HasPassword(),
	})
}

// StartMeeting PENDING 미팅 공개 (호스트 전용)
func (h *MeetingHandler) StartMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	meeting, err := h.svc.Start(c.Params("code"), claims.UserID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toMeetingResponse(meeting))
}

// EndMeeting 미팅 종료 (호스트 전용)
func (h *MeetingHandler) EndMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	meeting, err := h.svc.End(c.Params("code"), claims.UserID)
	if err != nil {
		return serviceError(c, err)
	}

	// WS 접속자도 같은 종료 통지/정리를 받아야 한다
	announceMeetingEnded(h.hub, h.redisClient, meeting)

	return c.JSON(toMeetingResponse(meeting))
}

// JoinMeeting 미팅 참가 (코드 + 비밀번호 또는 초대 링크 토큰)
func (h *MeetingHandler) JoinMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req JoinMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	var (
		meeting     *model.Meeting
		participant *model.Participant
		err         error
	)
	if req.LinkToken != "" {
		meeting, participant, err = h.svc.JoinByLink(req.LinkToken, claims.UserID)
	} else {
		meeting, participant, err = h.svc.Join(c.Params("code"), req.Password, claims.UserID)
	}
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"meeting":     toMeetingResponse(meeting),
		"participant": toParticipantResponse(participant),
	})
}

// LeaveMeeting 미팅 퇴장
func (h *MeetingHandler) LeaveMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	if err := h.svc.Leave(c.Params("code"), claims.UserID); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "left meeting"})
}

// GetParticipants 활성 참가자 목록 (presence가 설정돼 있으면 접속 여부 포함)
func (h *MeetingHandler) GetParticipants(c *fiber.Ctx) error {
	participants, err := h.svc.Roster(c.Params("code"))
	if err != nil {
		return serviceError(c, err)
	}

	online := map[int64]bool{}
	if h.presenceMgr != nil {
		ids := make([]int64, len(participants))
		for i := range participants {
			ids[i] = participants[i].UserID
		}
		if presenceMap, err := h.presenceMgr.GetMultiPresence(ids); err == nil {
			for id := range presenceMap {
				online[id] = true
			}
		}
	}

	responses := make([]ParticipantResponse, len(participants))
	for i := range participants {
		responses[i] = toParticipantResponse(&participants[i])
		responses[i].Online = online[participants[i].UserID]
	}
	return c.JSON(fiber.Map{
		"participants": responses,
		"total":        len(responses),
	})
}

// UpdatePermission 참가자 편집 권한 변경 (호스트 전용)
func (h *MeetingHandler) UpdatePermission(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	targetID, err := c.ParamsInt("userId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid user id",
		})
	}

	var req struct {
		Permission string `json:"permission"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	perm := model.Permission(req.Permission)
	if !perm.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "permission must be VIEW or EDIT",
		})
	}

	participant, err := h.svc.UpdatePermission(c.Params("code"), claims.UserID, int64(targetID), perm)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toParticipantResponse(participant))
}

// ToggleChat 미팅 전체 채팅 토글 (호스트 전용)
func (h *MeetingHandler) ToggleChat(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	meeting, err := h.svc.SetChatEnabled(c.Params("code"), claims.UserID, req.Enabled)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toMeetingResponse(meeting))
}

// SetParticipantChat 개별 참가자 음소거/해제 (호스트 전용)
func (h *MeetingHandler) SetParticipantChat(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	targetID, err := c.ParamsInt("userId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid user id",
		})
	}

	var req struct {
		CanChat bool `json:"can_chat"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	participant, err := h.svc.SetParticipantChat(c.Params("code"), claims.UserID, int64(targetID), req.CanChat)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toParticipantResponse(participant))
}

// GetChatHistory 영속화된 채팅 로그 조회
func (h *MeetingHandler) GetChatHistory(c *fiber.Ctx) error {
	entries, err := h.svc.ChatHistory(c.Params("code"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"messages": entries,
		"total":    len(entries),
	})
}

// =============================================================================
// Helpers
// =============================================================================

func toMeetingResponse(m *model.Meeting) MeetingResponse {
	resp := MeetingResponse{
		ID:            m.ID,
		Code:          m.Code,
		HostID:        m.HostID,
		Title:         m.Title,
		Status:        m.Status,
		IsChatEnabled: m.IsChatEnabled,
		HasPassword:   m.HasPassword(),
		CanvasID:      m.CanvasID,
	}
	if m.StartedAt != nil {
		s := m.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if m.EndedAt != nil {
		s := m.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &s
	}
	for i := range m.Participants {
		p := &m.Participants[i]
		if !p.IsActive() {
			continue
		}
		resp.Participants = append(resp.Participants, toParticipantResponse(p))
	}
	return resp
}

func toParticipantResponse(p *model.Participant) ParticipantResponse {
	resp := ParticipantResponse{
		ID:         p.ID,
		UserID:     p.UserID,
		Permission: p.Permission,
		CanChat:    p.CanChat,
		JoinedAt:   p.JoinedAt.Format(time.RFC3339),
		Nickname:   p.User.Nickname,
	}
	if p.LeftAt != nil {
		s := p.LeftAt.Format(time.RFC3339)
		resp.LeftAt = &s
	}
	return resp
}

// serviceError 서비스 오류를 HTTP 상태 코드로 변환
func serviceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrMeetingNotFound), errors.Is(err, service.ErrParticipantNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrWrongPassword),
		errors.Is(err, service.ErrNotAMember), errors.Is(err, service.ErrChatDisabled),
		errors.Is(err, service.ErrUserMuted), errors.Is(err, service.ErrEditNotAllowed):
		status = fiber.StatusForbidden
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrHostCannotLeave):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// sanitizeTitle 제목 문자열 정리
func sanitizeTitle(s string) string {
	s = strings.TrimSpace(s)
	invalidChars := []string{"<", ">", "\"", "\\"}
	for _, char := range invalidChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
