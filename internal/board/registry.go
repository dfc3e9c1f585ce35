package board

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation 캔버스에 적용되는 단일 드로잉 작업.
// 서버가 id, 작성자, 타임스탬프를 스탬핑하면 이후 불변.
type Operation struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"` // draw, shape, text 등 클라이언트 정의 태그
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Stamp 서버 측 필드를 채운 사본 반환
func Stamp(op Operation, userID int64, username string) Operation {
	op.ID = uuid.New().String()
	op.UserID = userID
	op.Username = username
	op.Timestamp = time.Now()
	return op
}

// RoomState 미팅 하나의 휘발성 상태: 작업 로그 + redo 스택.
// 방 단위 뮤텍스로 보호되므로 방 내 작업 순서는 전체 순서가 보장된다.
// 방 간 순서는 보장하지 않는다.
type RoomState struct {
	mu   sync.Mutex
	log  []Operation
	redo []Operation
}

// Append 로그에 추가하고 redo 스택을 비운다 (새 분기는 redo 이력을 무효화).
func (s *RoomState) Append(op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = append(s.log, op)
	s.redo = nil
}

// Undo 마지막 작업을 redo 스택으로 이동. 빈 로그면 ok=false.
// 반환되는 로그는 전체 재동기화 브로드캐스트용 사본.
func (s *RoomState) Undo() ([]Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.log) == 0 {
		return nil, false
	}

	last := s.log[len(s.log)-1]
	s.log = s.log[:len(s.log)-1]
	s.redo = append(s.redo, last)

	return snapshot(s.log), true
}

// Redo 마지막으로 undo된 작업을 로그로 복원. 빈 redo 스택이면 ok=false.
func (s *RoomState) Redo() ([]Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redo) == 0 {
		return nil, false
	}

	last := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.log = append(s.log, last)

	return snapshot(s.log), true
}

// Clear 로그와 redo 스택을 모두 초기화
func (s *RoomState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = nil
	s.redo = nil
}

// Snapshot 현재 로그의 사본 반환 (히스토리 요청, 종료 시 flush용)
func (s *RoomState) Snapshot() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return snapshot(s.log)
}

// RedoLen redo 스택 길이
func (s *RoomState) RedoLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.redo)
}

func snapshot(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	copy(out, ops)
	return out
}

// Registry 미팅 코드로 키된 휘발성 방 상태 저장소.
// 상태는 첫 접근 시 생성되고 미팅 종료 시 폐기된다. flush 전까지
// 내구성은 보장하지 않는다 (프로세스 재시작 시 소실).
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*RoomState
}

// NewRegistry Registry 생성
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*RoomState),
	}
}

// Get 방 상태 조회 또는 생성
func (r *Registry) Get(meetingCode string) *RoomState {
	r.mu.RLock()
	state, ok := r.rooms[meetingCode]
	r.mu.RUnlock()
	if ok {
		return state
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.rooms[meetingCode]; ok {
		return state
	}
	state = &RoomState{}
	r.rooms[meetingCode] = state
	return state
}

// Peek 방 상태 조회 (없으면 nil, 생성하지 않음)
func (r *Registry) Peek(meetingCode string) *RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[meetingCode]
}

// Drop 방 상태 폐기 (미팅 종료 시)
func (r *Registry) Drop(meetingCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, meetingCode)
}
