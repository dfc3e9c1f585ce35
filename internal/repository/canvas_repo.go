package repository

import (
	"gorm.io/gorm"

	"drawmeet-backend/internal/model"
)

// CanvasRepo GORM 기반 캔버스 문서 저장소
type CanvasRepo struct {
	db *gorm.DB
}

// NewCanvasRepo CanvasRepo 생성
func NewCanvasRepo(db *gorm.DB) *CanvasRepo {
	return &CanvasRepo{db: db}
}

// Create 캔버스 생성
func (r *CanvasRepo) Create(c *model.Canvas) error {
	return r.db.Create(c).Error
}

// ByID id로 조회
func (r *CanvasRepo) ByID(id int64) (*model.Canvas, error) {
	var canvas model.Canvas
	if err := r.db.First(&canvas, id).Error; err != nil {
		return nil, err
	}
	return &canvas, nil
}

// WriteData flush된 작업 로그 JSON을 문서 데이터 필드에 기록
func (r *CanvasRepo) WriteData(id int64, data string) error {
	return r.db.Model(&model.Canvas{}).
		Where("id = ?", id).
		Update("data", data).Error
}
