package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB 상태 점검 유틸리티: 스키마 존재 여부와 정합성 깨진 행을 확인한다.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Fatal("Error loading .env file")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// 테이블 존재 확인
	for _, table := range []string{"users", "meetings", "participants", "canvases", "chat_logs"} {
		var exists bool
		db.Raw("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = ?)", table).Scan(&exists)
		if exists {
			fmt.Printf("  ✅ table %s\n", table)
		} else {
			fmt.Printf("  ❌ table %s MISSING\n", table)
		}
	}
	fmt.Println()

	// 상태별 미팅 수
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	db.Raw("SELECT status, COUNT(*) AS count FROM meetings GROUP BY status ORDER BY status").Scan(&counts)
	fmt.Println("Meetings by status:")
	for _, c := range counts {
		fmt.Printf("  %-8s %d\n", c.Status, c.Count)
	}
	fmt.Println()

	// 정합성: 종료된 미팅에 남은 활성 참가자 (end가 sweep을 놓친 경우)
	var dangling int64
	db.Raw(`SELECT COUNT(*) FROM participants p
		JOIN meetings m ON m.id = p.meeting_id
		WHERE m.status = 'ENDED' AND p.left_at IS NULL`).Scan(&dangling)
	if dangling > 0 {
		fmt.Printf("⚠️  %d active participants in ENDED meetings\n", dangling)
	} else {
		fmt.Println("✅ No active participants in ENDED meetings")
	}

	// 정합성: 종료됐는데 캔버스 데이터가 비어 있는 미팅 (flush 실패 흔적)
	var unflushed int64
	db.Raw(`SELECT COUNT(*) FROM meetings m
		JOIN canvases c ON c.id = m.canvas_id
		WHERE m.status = 'ENDED' AND c.data IS NULL`).Scan(&unflushed)
	if unflushed > 0 {
		fmt.Printf("⚠️  %d ENDED meetings with empty canvas data (flush may have failed or board unused)\n", unflushed)
	} else {
		fmt.Println("✅ All ENDED meetings have canvas data")
	}
}
