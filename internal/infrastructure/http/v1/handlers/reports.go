package handlers

import (
	"github.com/gin-gonic/gin"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/dispatch"
	"analytica/internal/infrastructure/http/v1/dto"
)

// ReportsHandler exposes search, read, group-by and count over registered
// analytical entities.
type ReportsHandler struct {
	BaseHandler
	dispatcher *dispatch.Service
}

// NewReportsHandler creates a ReportsHandler over the dispatch service.
func NewReportsHandler(dispatcher *dispatch.Service) *ReportsHandler {
	return &ReportsHandler{dispatcher: dispatcher}
}

// Search handles POST /api/v1/reports/:entity/search.
func (h *ReportsHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	pred, err := dto.ParsePredicate(req.Predicate)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	keys, err := h.dispatcher.Search(c.Request.Context(), c.Param("entity"), pred, dispatch.SearchOptions{
		Order:  req.Order,
		Offset: req.Offset,
		Limit:  req.Limit,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	if keys == nil {
		keys = []int64{}
	}
	h.OK(c, dto.SearchResponse{Keys: keys, Count: len(keys)})
}

// Read handles POST /api/v1/reports/:entity/read.
func (h *ReportsHandler) Read(c *gin.Context) {
	var req dto.ReadRequest
	if !h.BindJSON(c, &req) {
		return
	}

	rows, err := h.dispatcher.Read(c.Request.Context(), c.Param("entity"), req.Keys, req.Attrs)
	if err != nil {
		h.Error(c, err)
		return
	}

	if rows == nil {
		rows = []dispatch.Row{}
	}
	h.OK(c, dto.ReadResponse{Rows: rows})
}

// Group handles POST /api/v1/reports/:entity/group.
func (h *ReportsHandler) Group(c *gin.Context) {
	var req dto.GroupRequest
	if !h.BindJSON(c, &req) {
		return
	}

	pred, err := dto.ParsePredicate(req.Predicate)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	buckets, err := h.dispatcher.GroupBy(c.Request.Context(), c.Param("entity"), pred, req.GroupBy, req.Aggregate)
	if err != nil {
		h.Error(c, err)
		return
	}

	if buckets == nil {
		buckets = []dispatch.Bucket{}
	}
	h.OK(c, dto.GroupResponse{Buckets: buckets})
}

// Count handles POST /api/v1/reports/:entity/count.
func (h *ReportsHandler) Count(c *gin.Context) {
	var req dto.CountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	pred, err := dto.ParsePredicate(req.Predicate)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	count, err := h.dispatcher.Count(c.Request.Context(), c.Param("entity"), pred)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.CountResponse{Count: count})
}

// Create handles POST /api/v1/reports/:entity. Analytical entities are
// read-only, so this exists to refuse with a structured error.
func (h *ReportsHandler) Create(c *gin.Context) {
	var values map[string]any
	if !h.BindJSON(c, &values) {
		return
	}
	h.mutate(c, h.dispatcher.Create(c.Request.Context(), c.Param("entity"), values))
}

// Update handles PUT /api/v1/reports/:entity.
func (h *ReportsHandler) Update(c *gin.Context) {
	var req struct {
		Keys   []int64        `json:"keys"`
		Values map[string]any `json:"values"`
	}
	if !h.BindJSON(c, &req) {
		return
	}
	h.mutate(c, h.dispatcher.Update(c.Request.Context(), c.Param("entity"), req.Keys, req.Values))
}

// Delete handles DELETE /api/v1/reports/:entity.
func (h *ReportsHandler) Delete(c *gin.Context) {
	var req struct {
		Keys []int64 `json:"keys"`
	}
	if !h.BindJSON(c, &req) {
		return
	}
	h.mutate(c, h.dispatcher.Delete(c.Request.Context(), c.Param("entity"), req.Keys))
}

func (h *ReportsHandler) mutate(c *gin.Context, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"status": "ok"})
}
