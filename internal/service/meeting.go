package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"drawmeet-backend/internal/board"
	"drawmeet-backend/internal/model"
)

// MeetingService 미팅 수명주기 상태 기계.
// 상태 전이(pending→live→ended), 로스터 변경, 종료 시 영속화를 담당한다.
// join/leave/end는 요청 간 잠금 없는 check-then-act로 처리한다: end와 경쟁하는
// join이 일시적으로 성공할 수 있으나 end의 참가자 일괄 정리가 결국 닫아주므로
// 무해한 경합으로 허용한다.
type MeetingService struct {
	meetings MeetingStore
	canvases CanvasStore
	chats    ChatStore
	registry *board.Registry
}

// NewMeetingService MeetingService 생성
func NewMeetingService(meetings MeetingStore, canvases CanvasStore, chats ChatStore, registry *board.Registry) *MeetingService {
	return &MeetingService{
		meetings: meetings,
		canvases: canvases,
		chats:    chats,
		registry: registry,
	}
}

// Create 새 미팅과 백업 캔버스 문서 생성.
// instant=true면 PENDING으로 시작(호스트가 start로 공개), 아니면 바로 LIVE.
func (s *MeetingService) Create(hostID int64, title, password string, instant bool) (*model.Meeting, error) {
	code, err := generateMeetingCode()
	if err != nil {
		return nil, err
	}
	linkToken, err := generateLinkToken()
	if err != nil {
		return nil, err
	}

	canvas := &model.Canvas{
		OwnerID: hostID,
		Title:   title,
	}
	if err := s.canvases.Create(canvas); err != nil {
		return nil, err
	}

	meeting := &model.Meeting{
		Code:          code,
		LinkToken:     linkToken,
		HostID:        hostID,
		Title:         title,
		CanvasID:      canvas.ID,
		IsChatEnabled: true,
	}

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		h := string(hash)
		meeting.PasswordHash = &h
	}

	if instant {
		meeting.Status = model.MeetingStatusPending.String()
	} else {
		now := time.Now()
		meeting.Status = model.MeetingStatusLive.String()
		meeting.StartedAt = &now
	}

	if err := s.meetings.Create(meeting); err != nil {
		return nil, err
	}

	log.Printf("[Meeting %s] Created (host=%d, status=%s)", meeting.Code, hostID, meeting.Status)
	return meeting, nil
}

// Get 공개 코드로 미팅 조회
func (s *MeetingService) Get(code string) (*model.Meeting, error) {
	meeting, err := s.meetings.ByCode(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	return meeting, err
}

// GetByLink 초대 링크 토큰으로 미팅 조회
func (s *MeetingService) GetByLink(token string) (*model.Meeting, error) {
	meeting, err := s.meetings.ByLinkToken(token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	return meeting, err
}

// Start pending→live 전이 (호스트 전용)
func (s *MeetingService) Start(code string, requesterID int64) (*model.Meeting, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	if err := authorizeHostTransition(meeting, requesterID); err != nil {
		return nil, err
	}
	if meeting.Status != model.MeetingStatusPending.String() {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	meeting.Status = model.MeetingStatusLive.String()
	meeting.StartedAt = &now
	if err := s.meetings.Save(meeting); err != nil {
		return nil, err
	}

	log.Printf("[Meeting %s] Started", meeting.Code)
	return meeting, nil
}

// Join 공개 코드 + 비밀번호로 로스터 참가
func (s *MeetingService) Join(code, password string, userID int64) (*model.Meeting, *model.Participant, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, nil, err
	}

	if meeting.HasPassword() {
		if err := bcrypt.CompareHashAndPassword([]byte(*meeting.PasswordHash), []byte(password)); err != nil {
			return nil, nil, ErrWrongPassword
		}
	}

	participant, err := s.joinRoster(meeting, userID)
	if err != nil {
		return nil, nil, err
	}
	return meeting, participant, nil
}

// JoinByLink 초대 링크 토큰으로 로스터 참가 (비밀번호 우회)
func (s *MeetingService) JoinByLink(token string, userID int64) (*model.Meeting, *model.Participant, error) {
	meeting, err := s.meetings.ByLinkToken(token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	participant, err := s.joinRoster(meeting, userID)
	if err != nil {
		return nil, nil, err
	}
	return meeting, participant, nil
}

// joinRoster 로스터 변경 공통 경로: 종료된 미팅 거부, 중복 없는 upsert.
// 퇴장했던 참가자의 재입장만 LeftAt을 비우고 권한을 VIEW로 초기화한다.
// 아직 활성인 항목(새 연결로 다시 join_room 등)은 그대로 둔다.
// 호스트가 부여한 EDIT 권한이 새로고침으로 사라지면 안 된다.
func (s *MeetingService) joinRoster(meeting *model.Meeting, userID int64) (*model.Participant, error) {
	if meeting.Status == model.MeetingStatusEnded.String() {
		return nil, ErrInvalidTransition
	}

	existing, err := s.meetings.Participant(meeting.ID, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.LeftAt != nil {
			existing.LeftAt = nil
			existing.Permission = model.PermissionView.String()
			if err := s.meetings.SaveParticipant(existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	participant := &model.Participant{
		MeetingID:  meeting.ID,
		UserID:     userID,
		Permission: model.PermissionView.String(),
		JoinedAt:   time.Now(),
	}
	if err := s.meetings.CreateParticipant(participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// Leave 호출자의 활성 참가 항목에 퇴장 시각 기록.
// 호스트는 leave 대신 end를 사용해야 한다.
func (s *MeetingService) Leave(code string, userID int64) error {
	meeting, err := s.Get(code)
	if err != nil {
		return err
	}
	if meeting.HostID == userID {
		return ErrHostCannotLeave
	}

	participant, err := s.meetings.Participant(meeting.ID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotAMember
	}
	if err != nil {
		return err
	}
	if !participant.IsActive() {
		return ErrNotAMember
	}

	now := time.Now()
	participant.LeftAt = &now
	return s.meetings.SaveParticipant(participant)
}

// End 미팅 종료 (호스트 전용, 종단 전이).
// 종료 시각을 찍고 활성 참가자를 일괄 퇴장 처리한 뒤 휘발성 작업 로그를
// 캔버스 문서로 flush하고 방 상태를 폐기한다. flush 실패는 기록만 하고
// 종료 자체는 계속 진행한다. 방이 종료 알림을 받는 것이 우선이다.
func (s *MeetingService) End(code string, requesterID int64) (*model.Meeting, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	if err := authorizeHostTransition(meeting, requesterID); err != nil {
		return nil, err
	}
	if meeting.Status == model.MeetingStatusEnded.String() {
		return nil, ErrInvalidTransition
	}

	if err := s.flushCanvas(meeting); err != nil {
		log.Printf("[Meeting %s] Canvas flush failed (continuing teardown): %v", meeting.Code, err)
	}

	now := time.Now()
	meeting.Status = model.MeetingStatusEnded.String()
	meeting.EndedAt = &now
	if err := s.meetings.Save(meeting); err != nil {
		return nil, err
	}

	if err := s.meetings.CloseParticipants(meeting.ID, now); err != nil {
		log.Printf("[Meeting %s] Participant sweep failed: %v", meeting.Code, err)
	}

	s.registry.Drop(meeting.Code)
	log.Printf("[Meeting %s] Ended", meeting.Code)
	return meeting, nil
}

// flushCanvas 현재 작업 로그를 영구 캔버스 문서에 기록
func (s *MeetingService) flushCanvas(meeting *model.Meeting) error {
	state := s.registry.Peek(meeting.Code)
	if state == nil {
		return nil // 작업이 없었던 미팅
	}

	ops := state.Snapshot()
	data, err := json.Marshal(ops)
	if err != nil {
		return err
	}

	if _, err := s.canvases.ByID(meeting.CanvasID); err != nil {
		return err
	}
	if err := s.canvases.WriteData(meeting.CanvasID, string(data)); err != nil {
		return err
	}

	log.Printf("[Meeting %s] Flushed %d operations to canvas %d", meeting.Code, len(ops), meeting.CanvasID)
	return nil
}

// Roster 미팅의 활성 참가자 목록 조회
func (s *MeetingService) Roster(code string) ([]model.Participant, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	return s.meetings.ActiveParticipants(meeting.ID)
}

// ParticipantOf 미팅의 참가자 항목 조회. 항목이 없으면 (nil, nil).
// 게이트 함수들이 nil 참가자를 거부로 처리한다.
func (s *MeetingService) ParticipantOf(meeting *model.Meeting, userID int64) (*model.Participant, error) {
	participant, err := s.meetings.Participant(meeting.ID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// UpdatePermission 활성 참가자의 편집 권한 변경 (호스트 전용)
func (s *MeetingService) UpdatePermission(code string, requesterID, targetUserID int64, perm model.Permission) (*model.Participant, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	if err := authorizeHostTransition(meeting, requesterID); err != nil {
		return nil, err
	}

	participant, err := s.meetings.Participant(meeting.ID, targetUserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	if !participant.IsActive() {
		return nil, ErrParticipantNotFound
	}

	participant.Permission = perm.String()
	if err := s.meetings.SaveParticipant(participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// SetChatEnabled 미팅 전체 채팅 토글 (호스트 전용)
func (s *MeetingService) SetChatEnabled(code string, requesterID int64, enabled bool) (*model.Meeting, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	if err := authorizeHostTransition(meeting, requesterID); err != nil {
		return nil, err
	}

	meeting.IsChatEnabled = enabled
	if err := s.meetings.Save(meeting); err != nil {
		return nil, err
	}
	return meeting, nil
}

// SetParticipantChat 개별 참가자 음소거/해제 (호스트 전용)
func (s *MeetingService) SetParticipantChat(code string, requesterID, targetUserID int64, canChat bool) (*model.Participant, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	if err := authorizeHostTransition(meeting, requesterID); err != nil {
		return nil, err
	}

	participant, err := s.meetings.Participant(meeting.ID, targetUserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	if !participant.IsActive() {
		return nil, ErrParticipantNotFound
	}

	participant.CanChat = &canChat
	if err := s.meetings.SaveParticipant(participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// SendMessage 권한 게이트를 통과한 메시지를 채팅 로그에 추가.
// 거부 시 아무것도 영속화하지 않고 타입 있는 오류를 반환한다 (발신자에게만 전달됨).
func (s *MeetingService) SendMessage(code string, userID int64, username, msg string) error {
	meeting, err := s.Get(code)
	if err != nil {
		return err
	}

	isHost := meeting.HostID == userID
	var participant *model.Participant
	p, err := s.meetings.Participant(meeting.ID, userID)
	if err == nil {
		participant = p
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := CanChat(meeting, participant, isHost); err != nil {
		return err
	}

	return s.chats.Append(meeting.ID, meeting.HostID, model.ChatEntry{
		Username: username,
		Msg:      msg,
	})
}

// ChatHistory 영속화된 채팅 로그 조회
func (s *MeetingService) ChatHistory(code string) ([]model.ChatEntry, error) {
	meeting, err := s.Get(code)
	if err != nil {
		return nil, err
	}

	chatLog, err := s.chats.Log(meeting.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []model.ChatEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []model.ChatEntry
	if err := json.Unmarshal([]byte(chatLog.Messages), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Canvas 저장된 캔버스 문서 조회 (미팅 종료 후 결과물 열람용)
func (s *MeetingService) Canvas(id int64) (*model.Canvas, error) {
	canvas, err := s.canvases.ByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCanvasNotFound
	}
	return canvas, err
}

// generateMeetingCode 짧은 공개 미팅 코드 생성
func generateMeetingCode() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// generateLinkToken 추측 불가능한 초대 링크 토큰 생성
func generateLinkToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
