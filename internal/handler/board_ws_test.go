package handler

import (
	"encoding/json"
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"drawmeet-backend/internal/auth"
	"drawmeet-backend/internal/board"
	"drawmeet-backend/internal/config"
	"drawmeet-backend/internal/model"
	"drawmeet-backend/internal/service"
)

// =============================================================================
// 인메모리 저장소 (여러 연결 고루틴이 접근하므로 잠금 공유)
// =============================================================================

type memDB struct {
	mu     sync.Mutex
	nextID int64
}

func (d *memDB) id() int64 {
	id := d.nextID
	d.nextID++
	return id
}

type memMeetingStore struct {
	db           *memDB
	meetings     map[int64]*model.Meeting
	participants []*model.Participant
}

func (s *memMeetingStore) Create(m *model.Meeting) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m.ID = s.db.id()
	s.meetings[m.ID] = m
	return nil
}

func (s *memMeetingStore) ByCode(code string) (*model.Meeting, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.meetings {
		if m.Code == code {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memMeetingStore) ByLinkToken(token string) (*model.Meeting, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.meetings {
		if m.LinkToken == token {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memMeetingStore) Save(m *model.Meeting) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.meetings[m.ID] = m
	return nil
}

func (s *memMeetingStore) Participant(meetingID, userID int64) (*model.Participant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.participants {
		if p.MeetingID == meetingID && p.UserID == userID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memMeetingStore) ActiveParticipants(meetingID int64) ([]model.Participant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Participant
	for _, p := range s.participants {
		if p.MeetingID == meetingID && p.IsActive() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memMeetingStore) CreateParticipant(p *model.Participant) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p.ID = s.db.id()
	s.participants = append(s.participants, p)
	return nil
}

func (s *memMeetingStore) SaveParticipant(p *model.Participant) error {
	return nil // 포인터 공유로 이미 반영됨
}

func (s *memMeetingStore) CloseParticipants(meetingID int64, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.participants {
		if p.MeetingID == meetingID && p.IsActive() {
			t := at
			p.LeftAt = &t
		}
	}
	return nil
}

type memCanvasStore struct {
	db       *memDB
	canvases map[int64]*model.Canvas
}

func (s *memCanvasStore) Create(c *model.Canvas) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c.ID = s.db.id()
	s.canvases[c.ID] = c
	return nil
}

func (s *memCanvasStore) ByID(id int64) (*model.Canvas, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.canvases[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (s *memCanvasStore) WriteData(id int64, data string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.canvases[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Data = &data
	return nil
}

type memChatStore struct {
	db   *memDB
	logs map[int64]*model.ChatLog
}

func (s *memChatStore) Append(meetingID, hostID int64, entry model.ChatEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	chatLog, ok := s.logs[meetingID]
	if !ok {
		chatLog = &model.ChatLog{MeetingID: meetingID, HostID: hostID, Messages: "[]"}
		s.logs[meetingID] = chatLog
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

func (s *memChatStore) Log(meetingID int64) (*model.ChatLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	chatLog, ok := s.logs[meetingID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return chatLog, nil
}

// =============================================================================
// 실제 WebSocket 왕복 하네스: fiber 앱을 임시 포트에 띄우고 클라이언트로 접속
// =============================================================================

const hostID = int64(1)

type wsEnv struct {
	t    *testing.T
	app  *fiber.App
	addr string
	hub  *RoomHub
	svc  *service.MeetingService
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()

	db := &memDB{nextID: 1}
	meetings := &memMeetingStore{db: db, meetings: make(map[int64]*model.Meeting)}
	canvases := &memCanvasStore{db: db, canvases: make(map[int64]*model.Canvas)}
	chats := &memChatStore{db: db, logs: make(map[int64]*model.ChatLog)}
	registry := board.NewRegistry()
	svc := service.NewMeetingService(meetings, canvases, chats, registry)

	hub := NewRoomHub()
	cfg := &config.Config{}
	wsHandler := NewBoardWSHandler(svc, hub, registry, nil, nil, cfg)
	meetingHandler := NewMeetingHandler(svc, hub, nil, nil)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/api/meetings/:code/end", func(c *fiber.Ctx) error {
		c.Locals("claims", &auth.Claims{UserID: hostID})
		return meetingHandler.EndMeeting(c)
	})
	app.Get("/ws/:userID/:nickname", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		id, err := strconv.ParseInt(c.Params("userID"), 10, 64)
		if err != nil {
			return fiber.ErrBadRequest
		}
		c.Locals("userID", id)
		c.Locals("nickname", c.Params("nickname"))
		return websocket.New(wsHandler.HandleWebSocket)(c)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return &wsEnv{t: t, app: app, addr: ln.Addr().String(), hub: hub, svc: svc}
}

func (e *wsEnv) createLive() *model.Meeting {
	e.t.Helper()
	meeting, err := e.svc.Create(hostID, "sketch session", "", false)
	if err != nil {
		e.t.Fatalf("create meeting: %v", err)
	}
	return meeting
}

type wsClient struct {
	t    *testing.T
	conn *fws.Conn
}

func (e *wsEnv) dial(userID int64, nickname string) *wsClient {
	e.t.Helper()

	url := "ws://" + e.addr + "/ws/" + strconv.FormatInt(userID, 10) + "/" + nickname
	var (
		conn *fws.Conn
		err  error
	)
	for i := 0; i < 20; i++ {
		conn, _, err = fws.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		e.t.Fatalf("dial %s: %v", url, err)
	}
	e.t.Cleanup(func() { conn.Close() })
	return &wsClient{t: e.t, conn: conn}
}

func (c *wsClient) send(eventType string, payload any) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal %s payload: %v", eventType, err)
	}
	if err := c.conn.WriteJSON(Event{Type: eventType, Payload: data}); err != nil {
		c.t.Fatalf("send %s: %v", eventType, err)
	}
}

// join 히스토리 수신까지 기다려 입장 완료를 보장한다
func (c *wsClient) join(meetingCode string, silent bool) {
	c.t.Helper()
	c.send("join_room", joinPayload{MeetingCode: meetingCode, Silent: silent})
	c.readUntil("history")
}

// readUntil 지정 타입 이벤트가 올 때까지 다른 이벤트를 건너뛰며 읽는다.
// forbidden 타입이 먼저 도착하면 실패한다. 수신 순서는 발신 고루틴별로
// 직렬이므로, 뒤따르는 마커 이벤트로 "오지 않았음"을 검증할 수 있다.
func (c *wsClient) readUntil(eventType string, forbidden ...string) Event {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %s: %v", eventType, err)
		}
		for _, f := range forbidden {
			if ev.Type == f {
				c.t.Fatalf("got %s event while waiting for %s", f, eventType)
			}
		}
		if ev.Type == eventType {
			return ev
		}
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestEndOverRESTNotifiesRoom(t *testing.T) {
	env := newWSEnv(t)
	meeting := env.createLive()

	host := env.dial(hostID, "host")
	host.join(meeting.Code, false)
	guest := env.dial(2, "guest")
	guest.join(meeting.Code, false)

	// REST 종료도 WS end_meeting과 같은 방 정리를 타야 한다
	req := httptest.NewRequest("POST", "/api/meetings/"+meeting.Code+"/end", nil)
	resp, err := env.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("end request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("end status = %d, want 200", resp.StatusCode)
	}

	ev := guest.readUntil("meeting_ended")
	var status statusPayload
	if err := json.Unmarshal(ev.Payload, &status); err != nil {
		t.Fatalf("unmarshal meeting_ended: %v", err)
	}
	if status.Status != model.MeetingStatusEnded.String() {
		t.Errorf("meeting_ended status = %s, want ENDED", status.Status)
	}
	host.readUntil("meeting_ended")

	if env.hub.Peek(meeting.Code) != nil {
		t.Error("room still in hub after REST end")
	}
}

func TestSilentJoinLeave(t *testing.T) {
	env := newWSEnv(t)
	meeting := env.createLive()

	host := env.dial(hostID, "host")
	host.join(meeting.Code, false)

	// silent 입장은 알리지 않는다: 입장 직후의 커서 이벤트가 user_joined
	// 없이 먼저 도착해야 한다 (같은 발신자의 이벤트는 순서가 보장된다)
	ghost := env.dial(2, "ghost")
	ghost.join(meeting.Code, true)
	ghost.send("cursor_move", map[string]any{"x": 1})
	host.readUntil("cursor_move", "user_joined")

	// silent 퇴장도 마찬가지. 퇴장 처리 완료는 세션이 풀린 뒤의
	// 방 스코프 요청이 거부되는 것으로 확인한다.
	ghost.send("leave_room", leavePayload{Silent: true})
	ghost.send("request_history", struct{}{})
	ghost.readUntil("error")

	// silent가 아니면 그대로 알린다
	guest := env.dial(3, "guest")
	guest.join(meeting.Code, false)
	ev := host.readUntil("user_joined", "user_left")
	var user userEventPayload
	if err := json.Unmarshal(ev.Payload, &user); err != nil {
		t.Fatalf("unmarshal user_joined: %v", err)
	}
	if user.UserID != 3 {
		t.Errorf("user_joined user_id = %d, want 3", user.UserID)
	}
}

func TestCursorIdentityStamped(t *testing.T) {
	env := newWSEnv(t)
	meeting := env.createLive()

	host := env.dial(hostID, "host")
	host.join(meeting.Code, false)
	guest := env.dial(2, "guest")
	guest.join(meeting.Code, false)

	// 페이로드의 신원 필드는 세션 값으로 덮어쓴다
	guest.send("cursor_move", map[string]any{
		"user_id":  999,
		"username": "impostor",
		"x":        12,
		"y":        7,
	})

	ev := host.readUntil("cursor_move")
	var fields map[string]any
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		t.Fatalf("unmarshal cursor_move: %v", err)
	}
	if got, _ := fields["user_id"].(float64); int64(got) != 2 {
		t.Errorf("cursor user_id = %v, want 2", fields["user_id"])
	}
	if fields["username"] != "guest" {
		t.Errorf("cursor username = %v, want guest", fields["username"])
	}
	if got, _ := fields["x"].(float64); got != 12 {
		t.Errorf("cursor x = %v, want 12", fields["x"])
	}
}
