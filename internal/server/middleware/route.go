package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// DataSourceHeader names the response header carrying the source that served
// an aggregate: live, cache or archive.
const DataSourceHeader = "X-Data-Source"

// Route families used as low-cardinality metric labels.
const (
	FamilyGitHub    = "github"
	FamilyTrello    = "trello"
	FamilyRateLimit = "rate_limit"
	FamilyHealth    = "health"
	FamilyVersion   = "version"
	FamilyMetrics   = "metrics"
	FamilyAdmin     = "admin"
	FamilyUnknown   = "unknown"
)

// SourceNone labels responses that carry no data source header.
const SourceNone = "none"

// RouteFamily maps a request onto its route family. The matched chi pattern
// is preferred so unmatched paths under /v1 still land in "unknown".
func RouteFamily(r *http.Request) string {
	if r == nil {
		return FamilyUnknown
	}

	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		pattern := rctx.RoutePattern()
		if pattern == "" {
			return FamilyUnknown
		}
		path = pattern
	}

	switch {
	case strings.HasPrefix(path, "/v1/github/"):
		return FamilyGitHub
	case strings.HasPrefix(path, "/v1/trello/"):
		return FamilyTrello
	case strings.HasPrefix(path, "/v1/rate-limit/"):
		return FamilyRateLimit
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return FamilyHealth
	case path == "/version":
		return FamilyVersion
	case path == "/metrics":
		return FamilyMetrics
	case strings.HasPrefix(path, "/admin/"):
		return FamilyAdmin
	default:
		return FamilyUnknown
	}
}

// DataSource returns the data source a handler wrote, or SourceNone.
func DataSource(h http.Header) string {
	if source := h.Get(DataSourceHeader); source != "" {
		return source
	}
	return SourceNone
}
