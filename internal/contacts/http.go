package contacts

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository は Store の操作です。
type Repository interface {
	Create(ctx context.Context, contact *Contact) error
	List(ctx context.Context, limit, offset int) ([]Contact, int64, error)
}

type submitRequest struct {
	Name        string `json:"name" binding:"required"`
	Age         int    `json:"age" binding:"required,min=1,max=150"`
	Country     string `json:"country" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Description string `json:"description" binding:"required"`
}

// SubmitHandler は POST /api/contacts のハンドラーです。
func SubmitHandler(repo Repository, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"message": "Please fill in all fields with valid values",
				"code":    "INVALID_INPUT",
			})
			return
		}

		contact := &Contact{
			Name:        strings.TrimSpace(req.Name),
			Age:         req.Age,
			Country:     strings.TrimSpace(req.Country),
			Email:       strings.TrimSpace(req.Email),
			Description: strings.TrimSpace(req.Description),
		}
		if err := repo.Create(c.Request.Context(), contact); err != nil {
			logger.Error().Err(err).Msg("failed to save contact")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to submit form"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Form submitted successfully"})
	}
}

// ListHandler は GET /api/contacts のハンドラーです（管理者用）。
func ListHandler(repo Repository, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), defaultListLimit)
		if limit <= 0 || limit > maxListLimit {
			limit = defaultListLimit
		}
		offset := parseIntDefault(c.Query("offset"), 0)
		if offset < 0 {
			offset = 0
		}

		rows, total, err := repo.List(c.Request.Context(), limit, offset)
		if err != nil {
			logger.Error().Err(err).Msg("failed to list contacts")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load submissions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows, "total": total})
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
