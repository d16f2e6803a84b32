package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100

	// Newest-first feeds (ledger history) are read without paging.
	DefaultFeedLimit = 50
	MaxFeedLimit     = 200
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Parse extracts and validates page/limit from query parameters
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return New(page, limit)
}

// New validates page and limit. Values below one fall back to the defaults and
// limit is capped at MaxLimit. Services call it so non-HTTP callers get the
// same bounds as the API.
func New(page, limit int) Params {
	if page < 1 {
		page = DefaultPage
	}
	limit = Clamp(limit, DefaultLimit, MaxLimit)

	return Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// ParseLimit reads a bare limit query parameter for feeds.
func ParseLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return Clamp(limit, DefaultFeedLimit, MaxFeedLimit)
}

// Clamp returns def for limit < 1 and max for limit > max.
func Clamp(limit, def, max int) int {
	if limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
