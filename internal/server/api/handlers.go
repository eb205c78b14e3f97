package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"relay/internal/server/database"
	"relay/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the relay API.
type Handler struct {
	svc *service.TransferService
	db  *database.DB // nil when running on the in-memory registry
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.TransferService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandleSend handles POST /api/send.
// Accepts a multipart form with a "file" field and optional "ttl_hours"
// and "max_downloads" fields. The payload streams straight from the
// request body into storage, so scalar fields must precede the file part.
func (h *Handler) HandleSend(c echo.Context) error {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart upload required (use form field 'file')",
		})
	}

	var ttl time.Duration
	var maxDownloads int

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "file is required (use form field 'file')",
			})
		}
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "malformed multipart body",
			})
		}

		switch part.FormName() {
		case "ttl_hours":
			val, err := readFormValue(part)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ttl_hours"})
			}
			hours, err := strconv.ParseFloat(val, 64)
			if err != nil || hours < 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ttl_hours"})
			}
			ttl = time.Duration(hours * float64(time.Hour))

		case "max_downloads":
			val, err := readFormValue(part)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_downloads"})
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_downloads"})
			}
			maxDownloads = n

		case "file":
			result, err := h.svc.Send(c.Request().Context(), service.SendRequest{
				Filename:     part.FileName(),
				ContentType:  part.Header.Get(echo.HeaderContentType),
				Body:         part,
				TTL:          ttl,
				MaxDownloads: maxDownloads,
			})
			part.Close()
			if err != nil {
				return mapServiceError(c, err)
			}
			return c.JSON(http.StatusCreated, result)

		default:
			part.Close()
		}
	}
}

// HandleInfo handles GET /api/info/:code.
// Returns transfer metadata without spending any download budget.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.Peek(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleReceive handles GET /r/:code.
// Commits one download and streams the payload as an attachment.
func (h *Handler) HandleReceive(c echo.Context) error {
	delivery, err := h.svc.Receive(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer delivery.Stream.Close()

	info := delivery.Info
	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, info.Filename))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	if info.Digest != "" {
		header.Set("ETag", `"`+info.Digest+`"`)
	}

	return c.Stream(http.StatusOK, info.ContentType, delivery.Stream)
}

// HandleDelete handles DELETE /api/transfers/:code.
// Removes a transfer before its budget or TTL runs out.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("code")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "transfer deleted successfully",
	})
}

// HandleHealth handles GET /health.
// Reports registry connectivity when a database backs the registry.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	registryStatus := "memory"

	if h.db != nil {
		registryStatus = "connected"
		if err := h.db.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			registryStatus = fmt.Sprintf("error: %v", err)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"registry": registryStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_transfers":    stats.TotalTransfers,
		"active_transfers":   stats.ActiveTransfers,
		"downloads_served":   stats.DownloadsServed,
		"storage_used_bytes": stats.BytesStored,
		"storage_used_human": humanizeBytes(stats.BytesStored),
	})
}

// readFormValue reads a small scalar form field.
func readFormValue(part io.ReadCloser) (string, error) {
	defer part.Close()
	val, err := io.ReadAll(io.LimitReader(part, 256))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// mapServiceError translates service-layer errors into appropriate HTTP
// responses. Every outcome stays distinguishable so the receiving party
// knows whether to retype the code, wait, or give up.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "code not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "transfer has expired"})
	case errors.Is(err, service.ErrConsumed):
		return c.JSON(http.StatusGone, echo.Map{"error": "download budget exhausted"})
	case errors.Is(err, service.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many attempts, try again later"})
	case errors.Is(err, service.ErrTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "payload exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrInvalidBudget):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid download budget"})
	case errors.Is(err, service.ErrStorageWrite), errors.Is(err, service.ErrStorageRead):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
