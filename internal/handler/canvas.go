package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"drawmeet-backend/internal/service"
)

// CanvasHandler 저장된 캔버스 조회 핸들러
type CanvasHandler struct {
	svc *service.MeetingService
}

// NewCanvasHandler CanvasHandler 생성
func NewCanvasHandler(svc *service.MeetingService) *CanvasHandler {
	return &CanvasHandler{svc: svc}
}

// GetCanvas 미팅 종료 시 flush된 캔버스 문서 조회
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid canvas id",
		})
	}

	canvas, err := h.svc.Canvas(int64(id))
	if err != nil {
		if errors.Is(err, service.ErrCanvasNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "canvas not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get canvas",
		})
	}

	return c.JSON(canvas)
}
