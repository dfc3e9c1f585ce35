package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"drawmeet-backend/internal/board"
	"drawmeet-backend/internal/model"
)

// 인메모리 저장소 페이크 (store.go 계약 구현)

type fakeMeetingStore struct {
	meetings     map[int64]*model.Meeting
	participants []*model.Participant
	nextID       int64
}

func newFakeMeetingStore() *fakeMeetingStore {
	return &fakeMeetingStore{meetings: make(map[int64]*model.Meeting), nextID: 1}
}

func (f *fakeMeetingStore) Create(m *model.Meeting) error {
	m.ID = f.nextID
	f.nextID++
	f.meetings[m.ID] = m
	return nil
}

func (f *fakeMeetingStore) ByCode(code string) (*model.Meeting, error) {
	for _, m := range f.meetings {
		if m.Code == code {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMeetingStore) ByLinkToken(token string) (*model.Meeting, error) {
	for _, m := range f.meetings {
		if m.LinkToken == token {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMeetingStore) Save(m *model.Meeting) error {
	f.meetings[m.ID] = m
	return nil
}

func (f *fakeMeetingStore) Participant(meetingID, userID int64) (*model.Participant, error) {
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.UserID == userID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMeetingStore) ActiveParticipants(meetingID int64) ([]model.Participant, error) {
	var out []model.Participant
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.IsActive() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeMeetingStore) CreateParticipant(p *model.Participant) error {
	p.ID = f.nextID
	f.nextID++
	f.participants = append(f.participants, p)
	return nil
}

func (f *fakeMeetingStore) SaveParticipant(p *model.Participant) error {
	return nil // 포인터 공유로 이미 반영됨
}

func (f *fakeMeetingStore) CloseParticipants(meetingID int64, at time.Time) error {
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.IsActive() {
			t := at
			p.LeftAt = &t
		}
	}
	return nil
}

type fakeCanvasStore struct {
	canvases map[int64]*model.Canvas
	nextID   int64
}

func newFakeCanvasStore() *fakeCanvasStore {
	return &fakeCanvasStore{canvases: make(map[int64]*model.Canvas), nextID: 1}
}

func (f *fakeCanvasStore) Create(c *model.Canvas) error {
	c.ID = f.nextID
	f.nextID++
	f.canvases[c.ID] = c
	return nil
}

func (f *fakeCanvasStore) ByID(id int64) (*model.Canvas, error) {
	c, ok := f.canvases[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeCanvasStore) WriteData(id int64, data string) error {
	c, ok := f.canvases[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Data = &data
	return nil
}

type fakeChatStore struct {
	logs map[int64]*model.ChatLog
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{logs: make(map[int64]*model.ChatLog)}
}

func (f *fakeChatStore) Append(meetingID, hostID int64, entry model.ChatEntry) error {
	chatLog, ok := f.logs[meetingID]
	if !ok {
		chatLog = &model.ChatLog{MeetingID: meetingID, HostID: hostID, Messages: "[]"}
		f.logs[meetingID] = chatLog
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
	chatLog.Messages = string(data)
	return nil
}

func (f *fakeChatStore) Log(meetingID int64) (*model.ChatLog, error) {
	chatLog, ok := f.logs[meetingID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return chatLog, nil
}

func newTestService() (*MeetingService, *fakeMeetingStore, *fakeCanvasStore, *fakeChatStore, *board.Registry) {
	meetings := newFakeMeetingStore()
	canvases := newFakeCanvasStore()
	chats := newFakeChatStore()
	registry := board.NewRegistry()
	return NewMeetingService(meetings, canvases, chats, registry), meetings, canvases, chats, registry
}

const hostID = int64(1)

func createLive(t *testing.T, svc *MeetingService) *model.Meeting {
	t.Helper()
	meeting, err := svc.Create(hostID, "sketch session", "", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return meeting
}

func TestCreateStatus(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	instant, err := svc.Create(hostID, "instant", "", true)
	if err != nil {
		t.Fatalf("create instant: %v", err)
	}
	if instant.Status != model.MeetingStatusPending.String() {
		t.Errorf("instant meeting status = %s, want PENDING", instant.Status)
	}
	if instant.StartedAt != nil {
		t.Error("instant meeting has StartedAt before start")
	}

	ordinary, err := svc.Create(hostID, "ordinary", "", false)
	if err != nil {
		t.Fatalf("create ordinary: %v", err)
	}
	if ordinary.Status != model.MeetingStatusLive.String() {
		t.Errorf("ordinary meeting status = %s, want LIVE", ordinary.Status)
	}
	if ordinary.StartedAt == nil {
		t.Error("ordinary meeting missing StartedAt")
	}
	if ordinary.Code == instant.Code {
		t.Error("meeting codes collide")
	}
	if ordinary.LinkToken == instant.LinkToken {
		t.Error("link tokens collide")
	}
}

func TestStartTransition(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting, _ := svc.Create(hostID, "m", "", true)

	if _, err := svc.Start(meeting.Code, 99); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-host start = %v, want ErrUnauthorized", err)
	}

	started, err := svc.Start(meeting.Code, hostID)
	if err != nil {
		t.Fatalf("host start: %v", err)
	}
	if started.Status != model.MeetingStatusLive.String() {
		t.Errorf("status after start = %s, want LIVE", started.Status)
	}

	if _, err := svc.Start(meeting.Code, hostID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start on live meeting = %v, want ErrInvalidTransition", err)
	}
}

func TestJoinUpsert(t *testing.T) {
	svc, meetings, _, _, _ := newTestService()
	meeting := createLive(t, svc)

	_, p, err := svc.Join(meeting.Code, "", 2)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.Permission != model.PermissionView.String() {
		t.Errorf("join permission = %s, want VIEW", p.Permission)
	}

	// 같은 사용자 재join은 항목을 복제하지 않는다
	if _, _, err := svc.Join(meeting.Code, "", 2); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if len(meetings.participants) != 1 {
		t.Fatalf("participant rows = %d, want 1", len(meetings.participants))
	}

	// 호스트가 권한을 올린 뒤 퇴장/재입장하면 VIEW로 초기화된다
	if _, err := svc.UpdatePermission(meeting.Code, hostID, 2, model.PermissionEdit); err != nil {
		t.Fatalf("update permission: %v", err)
	}
	if err := svc.Leave(meeting.Code, 2); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if meetings.participants[0].LeftAt == nil {
		t.Fatal("leave did not stamp LeftAt")
	}

	_, p, err = svc.Join(meeting.Code, "", 2)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(meetings.participants) != 1 {
		t.Fatalf("participant rows after rejoin = %d, want 1", len(meetings.participants))
	}
	if p.LeftAt != nil {
		t.Error("rejoin did not reset LeftAt")
	}
	if p.Permission != model.PermissionView.String() {
		t.Errorf("rejoin permission = %s, want VIEW", p.Permission)
	}
}

func TestJoinActiveKeepsPermission(t *testing.T) {
	svc, meetings, _, _, _ := newTestService()
	meeting := createLive(t, svc)

	if _, _, err := svc.Join(meeting.Code, "", 2); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.UpdatePermission(meeting.Code, hostID, 2, model.PermissionEdit); err != nil {
		t.Fatalf("update permission: %v", err)
	}

	// 퇴장 없이 다시 join해도 (새 탭, 새로고침) 권한은 유지된다
	_, p, err := svc.Join(meeting.Code, "", 2)
	if err != nil {
		t.Fatalf("active rejoin: %v", err)
	}
	if p.Permission != model.PermissionEdit.String() {
		t.Errorf("active rejoin permission = %s, want EDIT", p.Permission)
	}
	if len(meetings.participants) != 1 {
		t.Fatalf("participant rows = %d, want 1", len(meetings.participants))
	}
}

func TestJoinPassword(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting, err := svc.Create(hostID, "locked", "hunter2", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := svc.Join(meeting.Code, "wrong", 2); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password join = %v, want ErrWrongPassword", err)
	}
	if _, _, err := svc.Join(meeting.Code, "hunter2", 2); err != nil {
		t.Errorf("correct password join = %v, want nil", err)
	}

	// 링크 join은 비밀번호를 우회한다
	if _, _, err := svc.JoinByLink(meeting.LinkToken, 3); err != nil {
		t.Errorf("link join = %v, want nil", err)
	}
	if _, _, err := svc.JoinByLink("no-such-token", 4); !errors.Is(err, ErrMeetingNotFound) {
		t.Errorf("unknown token join = %v, want ErrMeetingNotFound", err)
	}
}

func TestJoinEndedMeeting(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting := createLive(t, svc)

	if _, err := svc.End(meeting.Code, hostID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, _, err := svc.Join(meeting.Code, "", 2); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("join ended meeting = %v, want ErrInvalidTransition", err)
	}
	if _, _, err := svc.JoinByLink(meeting.LinkToken, 2); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("link join ended meeting = %v, want ErrInvalidTransition", err)
	}
}

func TestLeaveErrors(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting := createLive(t, svc)

	if err := svc.Leave(meeting.Code, 42); !errors.Is(err, ErrNotAMember) {
		t.Errorf("leave without entry = %v, want ErrNotAMember", err)
	}

	if err := svc.Leave(meeting.Code, hostID); !errors.Is(err, ErrHostCannotLeave) {
		t.Errorf("host leave = %v, want ErrHostCannotLeave", err)
	}

	// 이미 퇴장한 참가자의 재leave
	svc.Join(meeting.Code, "", 2)
	if err := svc.Leave(meeting.Code, 2); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := svc.Leave(meeting.Code, 2); !errors.Is(err, ErrNotAMember) {
		t.Errorf("double leave = %v, want ErrNotAMember", err)
	}
}

func TestEndByNonHost(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting := createLive(t, svc)
	svc.Join(meeting.Code, "", 2)

	if _, err := svc.End(meeting.Code, 2); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-host end = %v, want ErrUnauthorized", err)
	}
	current, _ := svc.Get(meeting.Code)
	if current.Status != model.MeetingStatusLive.String() {
		t.Errorf("status after rejected end = %s, want LIVE", current.Status)
	}
}

func TestEndFlushesAndSweeps(t *testing.T) {
	svc, meetings, canvases, _, registry := newTestService()
	meeting := createLive(t, svc)
	svc.Join(meeting.Code, "", 2)
	svc.Join(meeting.Code, "", 3)

	state := registry.Get(meeting.Code)
	state.Append(board.Stamp(board.Operation{Type: "draw"}, 2, "alice"))
	state.Append(board.Stamp(board.Operation{Type: "shape"}, 3, "bob"))

	ended, err := svc.End(meeting.Code, hostID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != model.MeetingStatusEnded.String() {
		t.Errorf("status = %s, want ENDED", ended.Status)
	}
	if ended.EndedAt == nil {
		t.Error("EndedAt not stamped")
	}

	// 활성 참가자가 모두 정리된다
	for _, p := range meetings.participants {
		if p.IsActive() {
			t.Errorf("participant %d still active after end", p.UserID)
		}
	}

	// 작업 로그가 캔버스로 flush된다
	canvas, err := canvases.ByID(ended.CanvasID)
	if err != nil {
		t.Fatalf("canvas: %v", err)
	}
	if canvas.Data == nil {
		t.Fatal("canvas data empty after flush")
	}
	var ops []board.Operation
	if err := json.Unmarshal([]byte(*canvas.Data), &ops); err != nil {
		t.Fatalf("flushed data not valid JSON: %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("flushed ops = %d, want 2", len(ops))
	}

	// 휘발성 방 상태가 폐기된다
	if registry.Peek(meeting.Code) != nil {
		t.Error("room state survived meeting end")
	}

	// ended는 종단 상태다
	if _, err := svc.End(meeting.Code, hostID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("end on ended meeting = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdatePermission(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	meeting := createLive(t, svc)
	svc.Join(meeting.Code, "", 2)

	if _, err := svc.UpdatePermission(meeting.Code, 2, 2, model.PermissionEdit); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-host permission update = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.UpdatePermission(meeting.Code, hostID, 42, model.PermissionEdit); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("permission update for stranger = %v, want ErrParticipantNotFound", err)
	}

	p, err := svc.UpdatePermission(meeting.Code, hostID, 2, model.PermissionEdit)
	if err != nil {
		t.Fatalf("permission update: %v", err)
	}
	if p.Permission != model.PermissionEdit.String() {
		t.Errorf("permission = %s, want EDIT", p.Permission)
	}

	// 퇴장한 참가자는 대상이 될 수 없다
	svc.Leave(meeting.Code, 2)
	if _, err := svc.UpdatePermission(meeting.Code, hostID, 2, model.PermissionView); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("permission update for left participant = %v, want ErrParticipantNotFound", err)
	}
}

func TestSendMessageGate(t *testing.T) {
	svc, _, _, chats, _ := newTestService()
	meeting := createLive(t, svc)
	svc.Join(meeting.Code, "", 2)

	// 정상 경로: 첫 메시지에서 로그가 생성되고 호스트 id가 기록된다
	if err := svc.SendMessage(meeting.Code, 2, "alice", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	chatLog, err := chats.Log(meeting.ID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if chatLog.HostID != hostID {
		t.Errorf("chat log host = %d, want %d", chatLog.HostID, hostID)
	}

	// 개인 음소거
	if _, err := svc.SetParticipantChat(meeting.Code, hostID, 2, false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := svc.SendMessage(meeting.Code, 2, "alice", "again"); !errors.Is(err, ErrUserMuted) {
		t.Errorf("muted send = %v, want ErrUserMuted", err)
	}

	// 전체 채팅 비활성화는 호스트도 차단하며 아무것도 영속화하지 않는다
	if _, err := svc.SetChatEnabled(meeting.Code, hostID, false); err != nil {
		t.Fatalf("disable chat: %v", err)
	}
	if err := svc.SendMessage(meeting.Code, hostID, "host", "anyone?"); !errors.Is(err, ErrChatDisabled) {
		t.Errorf("host send with chat disabled = %v, want ErrChatDisabled", err)
	}

	history, err := svc.ChatHistory(meeting.Code)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("persisted messages = %d, want 1 (denied sends must not persist)", len(history))
	}
	if history[0].Username != "alice" || history[0].Msg != "hi" {
		t.Errorf("history[0] = %+v, want alice/hi", history[0])
	}
}
