package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	noema "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/server/dto"
	"github.com/noemakg/noema/pkg/telemetry"
	"github.com/noemakg/noema/pkg/types"
)

// ProcessHandler handles content processing requests.
type ProcessHandler struct {
	client  noema.Noema
	timeout time.Duration
	log     *slog.Logger
}

// NewProcessHandler creates a process handler with a per-request wall-clock
// budget.
func NewProcessHandler(client noema.Noema, timeout time.Duration, log *slog.Logger) *ProcessHandler {
	return &ProcessHandler{client: client, timeout: timeout, log: log}
}

// Process handles POST /api/content/process.
func (h *ProcessHandler) Process(c *gin.Context) {
	var req dto.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewError("invalid request body", dto.CodeValidationError))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" || len(content) < dto.MinContentLength {
		c.JSON(http.StatusBadRequest, dto.NewError("content is required and must be meaningful", dto.CodeValidationError))
		return
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = "text"
	}

	ctx := telemetry.WithRequestSource(c.Request.Context(), c.FullPath())
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.client.ProcessText(ctx, req.Content, noema.Source{
		Type: sourceType,
		Path: req.SourcePath,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, dto.NewError("processing time exceeded", dto.CodeTimeout))
		case errors.Is(err, types.ErrExtraction), errors.Is(err, types.ErrStore):
			h.log.ErrorContext(ctx, "content processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, dto.NewError(err.Error(), dto.CodeProcessingError))
		default:
			h.log.ErrorContext(ctx, "unexpected processing failure", "error", err)
			c.JSON(http.StatusInternalServerError, dto.NewError("internal error", dto.CodeInternalError))
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewProcessResponse(result))
}
