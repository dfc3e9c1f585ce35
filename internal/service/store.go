package service

import (
	"time"

	"drawmeet-backend/internal/model"
)

// 동기화 코어가 의존하는 영속 저장소 계약.
// GORM 구현은 internal/repository에 있다.

// MeetingStore 미팅 + 로스터 저장소
type MeetingStore interface {
	Create(m *model.Meeting) error
	ByCode(code string) (*model.Meeting, error)
	ByLinkToken(token string) (*model.Meeting, error)
	Save(m *model.Meeting) error

	Participant(meetingID, userID int64) (*model.Participant, error)
	ActiveParticipants(meetingID int64) ([]model.Participant, error)
	CreateParticipant(p *model.Participant) error
	SaveParticipant(p *model.Participant) error
	// CloseParticipants 미팅 종료 시 아직 활성인 모든 참가자의 LeftAt을 일괄 기록
	CloseParticipants(meetingID int64, at time.Time) error
}

// CanvasStore 영구 캔버스 문서 저장소
type CanvasStore interface {
	Create(c *model.Canvas) error
	ByID(id int64) (*model.Canvas, error)
	// WriteData flush된 작업 로그 JSON을 문서에 기록
	WriteData(id int64, data string) error
}

// ChatStore 미팅당 1행 채팅 로그 저장소
type ChatStore interface {
	// Append 첫 메시지에서 로그를 lazy 생성(호스트 id는 생성 시에만 기록)하고 메시지를 덧붙임
	Append(meetingID, hostID int64, entry model.ChatEntry) error
	Log(meetingID int64) (*model.ChatLog, error)
}
