package handler

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/trackvault/api/internal/client"
	"github.com/trackvault/api/internal/middleware"
	"github.com/trackvault/api/internal/service"
	"github.com/trackvault/api/pkg/response"
)

type LibraryHandler struct {
	service *service.CaptureService
}

func NewLibraryHandler(svc *service.CaptureService) *LibraryHandler {
	return &LibraryHandler{service: svc}
}

// List handles GET /api/library
func (h *LibraryHandler) List(c *fiber.Ctx) error {
	result, err := h.service.Library(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, "Failed to list library")
	}
	return response.OK(c, result)
}

// Stream handles GET /api/library/:ref/stream. The ref is URL-encoded
// because stored refs contain slashes. Byte-range requests are passed
// through to storage and answered with 206.
func (h *LibraryHandler) Stream(c *fiber.Ctx) error {
	ref, err := decodeRef(c)
	if err != nil {
		return response.ValidationError(c, "Invalid track ref", nil)
	}

	obj, err := h.service.Open(c.Context(), middleware.GetUserID(c), ref, c.Get("Range"))
	if err != nil {
		if isMissingObject(err) {
			return response.NotFound(c, "Track not found")
		}
		if errors.Is(err, client.ErrRangeNotSatisfiable) {
			return response.RangeNotSatisfiable(c)
		}
		return response.ServiceError(c, "Failed to open track")
	}

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "audio/webm"
	}
	c.Set(fiber.HeaderContentType, contentType)
	if obj.ContentLength > 0 {
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(obj.ContentLength, 10))
	}
	if obj.ContentRange != "" {
		c.Set(fiber.HeaderContentRange, obj.ContentRange)
		c.Status(fiber.StatusPartialContent)
	}

	return c.SendStream(obj.Body)
}

// Delete handles DELETE /api/library/:ref
func (h *LibraryHandler) Delete(c *fiber.Ctx) error {
	ref, err := decodeRef(c)
	if err != nil {
		return response.ValidationError(c, "Invalid track ref", nil)
	}

	if err := h.service.Remove(c.Context(), middleware.GetUserID(c), ref); err != nil {
		if isMissingObject(err) {
			return response.NotFound(c, "Track not found")
		}
		return response.ServiceError(c, "Failed to delete track")
	}
	return response.NoContent(c)
}

func decodeRef(c *fiber.Ctx) (string, error) {
	ref, err := url.PathUnescape(c.Params("ref"))
	if err != nil || ref == "" {
		return "", errors.New("missing ref")
	}
	return ref, nil
}

func isMissingObject(err error) bool {
	return errors.Is(err, client.ErrOutsideNamespace) || errors.Is(err, client.ErrObjectNotFound)
}
