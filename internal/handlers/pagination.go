package handlers

import (
	"math"
	"strconv"

	"github.com/Uriel-Ondo/agro/internal/models"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pageWindow reads page and limit. Without a limit the whole history is
// returned, which is what clients opening a session expect.
func pageWindow(rawPage, rawLimit string) (page, limit, offset int) {
	page = parsePositiveInt(rawPage, 1)
	limit = parsePositiveInt(rawLimit, 0)
	if limit == 0 && rawPage != "" {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if limit == 0 {
		return 1, 0, 0
	}
	// Pages whose offset would not fit in an int are clamped.
	if page > math.MaxInt/limit {
		page = math.MaxInt / limit
	}
	return page, limit, (page - 1) * limit
}

func buildPaginationMeta(page, limit, total int) models.PaginationMeta {
	if limit <= 0 {
		limit = total
	}
	totalPages := 0
	if total > 0 && limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	return models.PaginationMeta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}
