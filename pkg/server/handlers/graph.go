package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noemakg/noema/pkg/server/dto"
	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// GraphHandler serves read queries over the knowledge graph.
type GraphHandler struct {
	store store.Store
	log   *slog.Logger
}

func NewGraphHandler(s store.Store, log *slog.Logger) *GraphHandler {
	return &GraphHandler{store: s, log: log}
}

// ListEntities handles GET /api/entities.
func (h *GraphHandler) ListEntities(c *gin.Context) {
	limit, offset := pagination(c)
	entityType := c.Query("type")

	entities, total, err := h.store.ListEntities(c.Request.Context(), entityType, limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entities == nil {
		entities = []types.Entity{}
	}
	c.JSON(http.StatusOK, dto.ListResponse{Items: entities, Total: total, Limit: limit, Offset: offset})
}

// GetEntity handles GET /api/entities/:id, returning the entity with its
// observations and adjacent relations.
func (h *GraphHandler) GetEntity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewError("invalid entity id", dto.CodeValidationError))
		return
	}

	graph, err := h.store.GetEntityGraph(c.Request.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.NewError("entity not found", dto.CodeNotFound))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

// SearchEntities handles GET /api/entities/search.
func (h *GraphHandler) SearchEntities(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, dto.NewError("query parameter q is required", dto.CodeValidationError))
		return
	}
	limit, _ := pagination(c)

	entities, err := h.store.SearchEntities(c.Request.Context(), query, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entities == nil {
		entities = []types.Entity{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entities, "query": query})
}

// ListRelations handles GET /api/relations.
func (h *GraphHandler) ListRelations(c *gin.Context) {
	limit, offset := pagination(c)
	relations, total, err := h.store.ListRelations(c.Request.Context(), c.Query("type"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if relations == nil {
		relations = []types.RelationDetail{}
	}
	c.JSON(http.StatusOK, dto.ListResponse{Items: relations, Total: total, Limit: limit, Offset: offset})
}

// Statistics handles GET /api/statistics.
func (h *GraphHandler) Statistics(c *gin.Context) {
	stats, err := h.store.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Visualization handles GET /api/visualization.
func (h *GraphHandler) Visualization(c *gin.Context) {
	limit, _ := pagination(c)
	viz, err := h.store.Visualization(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viz)
}

func (h *GraphHandler) fail(c *gin.Context, err error) {
	h.log.ErrorContext(c.Request.Context(), "graph query failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, dto.NewError("internal error", dto.CodeInternalError))
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
