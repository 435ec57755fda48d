package middleware

import (
	"net/http"

	apperrors "github.com/storeline/scan-station/internal/errors"
	"github.com/storeline/scan-station/internal/httputil"
)

// writeError rejects a request in the same body shape the handlers use, so
// scanner UIs parse middleware refusals like any other API error.
func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	httputil.WriteErrorWithStatus(w, httputil.StatusFromCode(err.Code), err)
}
