package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChatMessage 미팅 채팅 최근 메시지 캐시 항목
type ChatMessage struct {
	MeetingCode string    `json:"meetingCode"`
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	Msg         string    `json:"msg"`
	Timestamp   time.Time `json:"timestamp"`
}

// RedisClient 채팅 최근 기록 캐싱용 Redis 클라이언트 래퍼
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
	max    int64
}

// NewRedisClient Redis 클라이언트 생성
func NewRedisClient(addr, password string, ttl time.Duration, max int64) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client, ttl: ttl, max: max}, nil
}

func chatKey(meetingCode string) string {
	return "meeting:" + meetingCode + ":chat"
}

// AddChatMessage 미팅 채팅 리스트에 메시지 추가.
// LTRIM으로 최근 max개만 유지하고 매 쓰기마다 TTL을 갱신한다.
func (r *RedisClient) AddChatMessage(ctx context.Context, m *ChatMessage) error {
	key := chatKey(m.MeetingCode)
	m.Timestamp = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] Failed to cache chat message: %v", err)
		return err
	}

	r.client.LTrim(ctx, key, -r.max, -1)
	r.client.Expire(ctx, key, r.ttl)

	return nil
}

// GetRecentMessages 미팅의 최근 메시지 N개 조회 (늦게 입장한 참가자용)
func (r *RedisClient) GetRecentMessages(ctx context.Context, meetingCode string, count int64) ([]ChatMessage, error) {
	results, err := r.client.LRange(ctx, chatKey(meetingCode), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(results))
	for _, data := range results {
		var m ChatMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetMessageCount 미팅의 캐시된 메시지 수
func (r *RedisClient) GetMessageCount(ctx context.Context, meetingCode string) (int64, error) {
	return r.client.LLen(ctx, chatKey(meetingCode)).Result()
}

// DeleteMeeting 미팅 종료 시 캐시 폐기 (영속 로그는 DB에 이미 있다)
func (r *RedisClient) DeleteMeeting(ctx context.Context, meetingCode string) error {
	return r.client.Del(ctx, chatKey(meetingCode)).Err()
}

// Close Redis 연결 종료
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health Redis 상태 확인
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
