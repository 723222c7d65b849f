// Admin read API for fan memory.
//
//   - GET /fans                 (list, paginated, ETag support)
//   - GET /fans/{id}            (lore and name)
//   - GET /fans/{id}/messages   (conversation, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call the fan service,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/domain"
	"github.com/tbourn/persona-engine/internal/repo"
	"github.com/tbourn/persona-engine/internal/services"
)

// FanService defines the read operations consumed by the admin handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type FanService interface {
	// Get returns one fan's memory record.
	Get(ctx context.Context, fanID string) (*domain.Fan, error)
	// ListPage returns a page of fans and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Fan, int64, error)
	// MessagesPage returns a page of a fan's messages and the total count.
	MessagesPage(ctx context.Context, fanID string, page, pageSize int) ([]domain.Message, int64, error)
}

// FanHandlers groups the admin endpoints.
type FanHandlers struct {
	svc FanService
}

// NewFanHandlers constructs the admin handlers.
func NewFanHandlers(svc FanService) *FanHandlers {
	return &FanHandlers{svc: svc}
}

// ListFansResponse wraps a page of fans and pagination information.
type ListFansResponse struct {
	Fans       []domain.Fan `json:"fans"`
	Pagination Pagination   `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ListFans godoc
// @ID          listFans
// @Summary     List fans (paginated)
// @Description Returns a page of fan memory records, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Fans
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"fans:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListFansResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/fans [get]
func (h *FanHandlers) ListFans(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	if db := h.db(); db != nil {
		if count, maxTS, err := repo.FansStats(ctx, db); err == nil {
			if notModified(c, fmt.Sprintf(`W/"fans:%d:%d"`, count, unix(maxTS))) {
				return
			}
		}
	}

	items, total, err := h.svc.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListFansResponse{Fans: items, Pagination: newPagination(page, pageSize, total)})
}

// GetFan godoc
// @ID          getFan
// @Summary     Get a fan's memory record
// @Tags        Fans
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Platform fan id"
// @Success     200  {object} domain.Fan
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Fan not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/fans/{id} [get]
func (h *FanHandlers) GetFan(c *gin.Context) {
	f, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fanError(c, err)
		return
	}
	ok(c, http.StatusOK, f)
}

// ListMessages godoc
// @ID          listFanMessages
// @Summary     List a fan's messages (paginated)
// @Description Returns the stored conversation oldest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Fans
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Platform fan id"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Fan not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/fans/{id}/messages [get]
func (h *FanHandlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	fanID := c.Param("id")
	page, pageSize := clampPagination(c)

	if db := h.db(); db != nil && fanID != "" {
		if count, maxTS, err := repo.MessagesStats(ctx, db, fanID); err == nil && count > 0 {
			if notModified(c, fmt.Sprintf(`W/"msgs:%s:%d:%d"`, fanID, count, unix(maxTS))) {
				return
			}
		}
	}

	items, total, err := h.svc.MessagesPage(ctx, fanID, page, pageSize)
	if err != nil {
		h.fanError(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}

func (h *FanHandlers) fanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyFanID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fan id required")
	case errors.Is(err, services.ErrFanNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "fan not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// db exposes the service's handle for the ETag pre-check (best effort).
func (h *FanHandlers) db() *gorm.DB {
	if svc, ok := h.svc.(*services.FanService); ok {
		return svc.DB
	}
	return nil
}

// notModified sets the ETag and reports whether a 304 was written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func unix(ts *time.Time) int64 {
	if ts == nil {
		return 0
	}
	return ts.Unix()
}
