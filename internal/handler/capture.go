package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackvault/api/internal/middleware"
	"github.com/trackvault/api/internal/model"
	"github.com/trackvault/api/internal/service"
	"github.com/trackvault/api/internal/store"
	"github.com/trackvault/api/pkg/response"
)

type CaptureHandler struct {
	service   *service.CaptureService
	validator *validator.Validate
}

func NewCaptureHandler(svc *service.CaptureService, v *validator.Validate) *CaptureHandler {
	return &CaptureHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/captures
func (h *CaptureHandler) Start(c *fiber.Ctx) error {
	var req model.CaptureStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSource) {
			return response.ValidationError(c, "Unrecognized source URL", nil)
		}
		return response.ServiceError(c, "Failed to start capture")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/captures/:id
func (h *CaptureHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Capture ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Capture not found")
		}
		return response.ServiceError(c, "Failed to load capture")
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/captures/:id/cancel
func (h *CaptureHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Capture ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Capture not found")
		}
		return response.ServiceError(c, "Failed to cancel capture")
	}

	return response.OK(c, result)
}

// Retry handles POST /api/captures/:id/retry
func (h *CaptureHandler) Retry(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Capture ID is required", nil)
	}

	result, err := h.service.Retry(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Capture not found")
		}
		if errors.Is(err, service.ErrNotRetryable) {
			return response.ValidationError(c, "Only failed captures can be retried", nil)
		}
		return response.ServiceError(c, "Failed to retry capture")
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
