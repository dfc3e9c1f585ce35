package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceData Redis에 저장될 미팅 접속 상태 데이터
type PresenceData struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	MeetingCode   string `json:"meeting_code"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	ServerID      string `json:"server_id"` // 멀티 서버 확장 대비
}

// Manager 미팅 presence 관리자.
// 키 TTL이 생존 판정이다: heartbeat가 끊기면 60초 뒤 자동으로 오프라인 처리된다.
type Manager struct {
	client *redis.Client
	ctx    context.Context
}

// NewManager 생성자
func NewManager(addr string, password string, db int) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Manager{
		client: rdb,
		ctx:    context.Background(),
	}
}

func (m *Manager) getUserKey(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// SetPresence 미팅 접속 기록 (WS join 시)
func (m *Manager) SetPresence(userID int64, username, meetingCode, serverID string) error {
	data := PresenceData{
		UserID:        userID,
		Username:      username,
		MeetingCode:   meetingCode,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      serverID,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// 60초 TTL (Heartbeat는 30초마다)
	return m.client.Set(m.ctx, m.getUserKey(userID), jsonData, 60*time.Second).Err()
}

// UpdateHeartbeat 생존 신고 (TTL 연장)
func (m *Manager) UpdateHeartbeat(userID int64) error {
	result, err := m.client.Expire(m.ctx, m.getUserKey(userID), 60*time.Second).Result()
	if err != nil {
		return err
	}
	if !result {
		return fmt.Errorf("user %d not found (offline)", userID)
	}
	return nil
}

// RemovePresence 접속 기록 삭제 (Disconnect)
func (m *Manager) RemovePresence(userID int64) error {
	return m.client.Del(m.ctx, m.getUserKey(userID)).Err()
}

// GetPresence 단일 사용자 조회. 오프라인이면 (nil, nil).
func (m *Manager) GetPresence(userID int64) (*PresenceData, error) {
	val, err := m.client.Get(m.ctx, m.getUserKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil // Offline
	}
	if err != nil {
		return nil, err
	}

	var data PresenceData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMultiPresence 여러 사용자 일괄 조회 (미팅 로스터 표시용)
func (m *Manager) GetMultiPresence(userIDs []int64) (map[int64]*PresenceData, error) {
	if len(userIDs) == 0 {
		return map[int64]*PresenceData{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = m.getUserKey(id)
	}

	results, err := m.client.MGet(m.ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	presenceMap := make(map[int64]*PresenceData)
	for i, result := range results {
		if result == nil {
			continue // Offline
		}

		strVal, ok := result.(string)
		if !ok {
			continue
		}

		var data PresenceData
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			presenceMap[userIDs[i]] = &data
		}
	}

	return presenceMap, nil
}
