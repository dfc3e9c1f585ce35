package repository

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"drawmeet-backend/internal/model"
)

// ChatRepo 미팅당 1행 채팅 로그 저장소
type ChatRepo struct {
	db *gorm.DB
}

// NewChatRepo ChatRepo 생성
func NewChatRepo(db *gorm.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// Append 메시지 추가. 로그 행은 첫 메시지에서 lazy 생성되며
// 호스트 id는 생성 시에만 기록된다 (이후 호스트 변경 없음).
func (r *ChatRepo) Append(meetingID, hostID int64, entry model.ChatEntry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var chatLog model.ChatLog
		err := tx.Where("meeting_id = ?", meetingID).First(&chatLog).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			chatLog = model.ChatLog{
				MeetingID: meetingID,
				HostID:    hostID,
				Messages:  "[]",
			}
			if err := tx.Create(&chatLog).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		var entries []model.ChatEntry
		if err := json.Unmarshal([]byte(chatLog.Messages), &entries); err != nil {
			return err
		}
		entries = append(entries, entry)

		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}

		return tx.Model(&chatLog).Update("messages", string(data)).Error
	})
}

// Log 미팅의 채팅 로그 조회
func (r *ChatRepo) Log(meetingID int64) (*model.ChatLog, error) {
	var chatLog model.ChatLog
	if err := r.db.Where("meeting_id = ?", meetingID).First(&chatLog).Error; err != nil {
		return nil, err
	}
	return &chatLog, nil
}
