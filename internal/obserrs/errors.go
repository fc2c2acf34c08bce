// Package obserrs defines the error taxonomy shared across the ingestion,
// indexing, and query pipeline.
package obserrs

import (
	"net/http"

	"github.com/zeebo/errs"
)

// Error classes, one per taxonomy entry. Classes compose with errs.Wrap so
// call sites can annotate without losing the class for status-code mapping.
var (
	// BadRequest is malformed input; user-visible, non-retryable.
	BadRequest = errs.Class("bad_request")
	// AuthError is a missing/invalid credential or permission; user-visible.
	AuthError = errs.Class("auth_error")
	// SchemaConflict is internal-only; triggers retry of observe+commit.
	SchemaConflict = errs.Class("schema_conflict")
	// Overloaded is an admission-control rejection; client retries after the hint.
	Overloaded = errs.Class("overloaded")
	// StorageUnavailable covers WAL fsync failure or an unreachable object store.
	StorageUnavailable = errs.Class("storage_unavailable")
	// QueryTooLarge means the plan exceeded the coordinator-memory budget.
	QueryTooLarge = errs.Class("query_too_large")
	// Internal means an invariant was violated; the operation fails but the
	// process continues.
	Internal = errs.Class("internal")
)

// HTTPStatus maps an error's class to the status code spec.md §6 requires.
// Falls through to 500 for anything not in the known taxonomy.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case BadRequest.Has(err):
		return http.StatusBadRequest
	case AuthError.Has(err):
		return http.StatusUnauthorized
	case Overloaded.Has(err):
		return http.StatusServiceUnavailable
	case StorageUnavailable.Has(err):
		return http.StatusServiceUnavailable
	case QueryTooLarge.Has(err):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
