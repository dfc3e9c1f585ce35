package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotBound 방에 join하지 않은 연결이 방 스코프 동작을 시도함
var ErrNotBound = errors.New("session is not bound to a room")

// ErrAlreadyBound 이미 바인딩된 연결이 다시 join을 시도함
var ErrAlreadyBound = errors.New("session is already bound to a room")

// Context 연결 하나의 방 스코프 식별 정보.
// join 시점에 정확히 한 번 바인딩되며 이후 모든 방 동작은 메시지마다
// 신원을 다시 꺼내지 않고 이 레코드를 사용한다. 바인딩 후 불변.
type Context struct {
	UserID      int64
	Username    string
	MeetingCode string
	IsHost      bool
	BoundAt     time.Time
}

// Session WebSocket 연결 하나의 수명과 함께하는 세션
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu  sync.RWMutex
	ctx *Context
}

// New 새 세션 생성 (연결 수립 시)
func New() *Session {
	return &Session{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
	}
}

// Bind 방 컨텍스트를 한 번만 바인딩
func (s *Session) Bind(userID int64, username, meetingCode string, isHost bool) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return nil, ErrAlreadyBound
	}

	s.ctx = &Context{
		UserID:      userID,
		Username:    username,
		MeetingCode: meetingCode,
		IsHost:      isHost,
		BoundAt:     time.Now(),
	}
	return s.ctx, nil
}

// Unbind 방 컨텍스트 해제 (leave 시). 같은 연결로 다른 방에 재입장 가능.
func (s *Session) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = nil
}

// Bound 바인딩된 컨텍스트 조회. 없으면 ErrNotBound.
func (s *Session) Bound() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ctx == nil {
		return nil, ErrNotBound
	}
	return s.ctx, nil
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}
