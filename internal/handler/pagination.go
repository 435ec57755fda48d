package handler

import (
	"net/http"
	"strconv"

	"github.com/storeline/scan-station/internal/config"
)

// ParseLimit reads the limit query parameter, falling back to the default for
// missing or non-positive values and clamping to the maximum.
func ParseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if limit <= 0 {
		return config.DefaultScanHistoryLimit
	}
	if limit > config.MaxScanHistoryLimit {
		return config.MaxScanHistoryLimit
	}
	return limit
}
