package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/raki39/frontgraph/pkg/models"
)

// paginated is the shared envelope of every paginated response.
type paginated struct {
	Items      any               `json:"items"`
	Pagination models.Pagination `json:"pagination"`
}

func newPaginated(items any, p models.Pagination) paginated {
	return paginated{Items: items, Pagination: p}
}

// redactConnection strips the secret from an echoed connection payload.
// Credentials never travel back to the client.
func redactConnection(conn *models.Connection) *models.Connection {
	clone := *conn
	if clone.Payload.Password != "" {
		clone.Payload.Password = "***"
	}
	return &clone
}

// pageParams reads page/per_page query parameters with defaults.
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if err != nil || perPage < 1 {
		perPage = 20
	}
	return page, perPage
}
