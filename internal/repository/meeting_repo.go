package repository

import (
	"time"

	"gorm.io/gorm"

	"drawmeet-backend/internal/model"
)

// MeetingRepo GORM 기반 미팅/로스터 저장소
type MeetingRepo struct {
	db *gorm.DB
}

// NewMeetingRepo MeetingRepo 생성
func NewMeetingRepo(db *gorm.DB) *MeetingRepo {
	return &MeetingRepo{db: db}
}

// Create 미팅 저장
func (r *MeetingRepo) Create(m *model.Meeting) error {
	return r.db.Create(m).Error
}

// ByCode 공개 코드로 조회 (참가자 포함)
func (r *MeetingRepo) ByCode(code string) (*model.Meeting, error) {
	var meeting model.Meeting
	err := r.db.
		Where("code = ?", code).
		Preload("Participants.User").
		Preload("Host").
		First(&meeting).Error
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}

// ByLinkToken 초대 링크 토큰으로 조회
func (r *MeetingRepo) ByLinkToken(token string) (*model.Meeting, error) {
	var meeting model.Meeting
	err := r.db.
		Where("link_token = ?", token).
		Preload("Host").
		First(&meeting).Error
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}

// Save 미팅 갱신
func (r *MeetingRepo) Save(m *model.Meeting) error {
	return r.db.Save(m).Error
}

// Participant 미팅 내 특정 사용자의 참가 항목 조회
func (r *MeetingRepo) Participant(meetingID, userID int64) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.
		Where("meeting_id = ? AND user_id = ?", meetingID, userID).
		First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// ActiveParticipants 아직 퇴장하지 않은 참가자 목록
func (r *MeetingRepo) ActiveParticipants(meetingID int64) ([]model.Participant, error) {
	var participants []model.Participant
	err := r.db.
		Where("meeting_id = ? AND left_at IS NULL", meetingID).
		Preload("User").
		Order("joined_at ASC").
		Find(&participants).Error
	return participants, err
}

// CreateParticipant 참가 항목 생성
func (r *MeetingRepo) CreateParticipant(p *model.Participant) error {
	return r.db.Create(p).Error
}

// SaveParticipant 참가 항목 갱신
func (r *MeetingRepo) SaveParticipant(p *model.Participant) error {
	return r.db.Save(p).Error
}

// CloseParticipants 활성 참가자 전원의 LeftAt 일괄 기록 (미팅 종료 정리)
func (r *MeetingRepo) CloseParticipants(meetingID int64, at time.Time) error {
	return r.db.Model(&model.Participant{}).
		Where("meeting_id = ? AND left_at IS NULL", meetingID).
		Update("left_at", at).Error
}
