package model

import (
	"time"
)

// User 사용자
type User struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string    `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg *string   `gorm:"type:text" json:"profile_img,omitempty"`
	Provider   *string   `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Participants []Participant `gorm:"foreignKey:UserID" json:"participants,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Meeting 회의
type Meeting struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	LinkToken     string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"-"`
	PasswordHash  *string    `gorm:"type:varchar(100)" json:"-"`
	HostID        int64      `gorm:"not null" json:"host_id"`
	Title         string     `gorm:"type:varchar(200);not null" json:"title"`
	Status        string     `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	IsChatEnabled bool       `gorm:"default:true" json:"is_chat_enabled"`
	CanvasID      int64      `gorm:"not null" json:"canvas_id"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Host         User          `gorm:"foreignKey:HostID" json:"host,omitempty"`
	Canvas       *Canvas       `gorm:"foreignKey:CanvasID" json:"canvas,omitempty"`
	Participants []Participant `gorm:"foreignKey:MeetingID" json:"participants,omitempty"`
	ChatLog      *ChatLog      `gorm:"foreignKey:MeetingID" json:"chat_log,omitempty"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// HasPassword 비밀번호 설정 여부
func (m *Meeting) HasPassword() bool {
	return m.PasswordHash != nil && *m.PasswordHash != ""
}

// Participant 회의 참가자
type Participant struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MeetingID  int64      `gorm:"not null;uniqueIndex:idx_participants_meeting_user" json:"meeting_id"`
	UserID     int64      `gorm:"not null;uniqueIndex:idx_participants_meeting_user" json:"user_id"`
	Permission string     `gorm:"type:varchar(20);not null;default:'VIEW'" json:"permission"` // VIEW, EDIT
	CanChat    *bool      `json:"can_chat,omitempty"`                                         // nil = 허용 (기본값)
	JoinedAt   time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`

	// Relations
	Meeting Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
	User    User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string {
	return "participants"
}

// IsActive 아직 퇴장하지 않은 참가자인지 확인
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil
}

// Canvas 회의 종료 시 작업 로그가 기록되는 영구 문서
type Canvas struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   int64     `gorm:"not null" json:"owner_id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	Data      *string   `gorm:"type:jsonb" json:"data,omitempty"` // JSON array of operations
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Owner User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

func (Canvas) TableName() string {
	return "canvases"
}

// ChatLog 미팅당 1행의 채팅 로그 (첫 메시지에서 lazy 생성)
type ChatLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MeetingID int64     `gorm:"not null;uniqueIndex" json:"meeting_id"`
	HostID    int64     `gorm:"not null" json:"host_id"`
	Messages  string    `gorm:"type:jsonb;not null;default:'[]'" json:"messages"` // JSON array of {username, msg}
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Meeting Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
}

func (ChatLog) TableName() string {
	return "chat_logs"
}

// ChatEntry 채팅 로그의 개별 메시지
type ChatEntry struct {
	Username string `json:"username"`
	Msg      string `json:"msg"`
}
