package httputil

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the "error" field of failure payloads. Clients
// dispatch on the code; Message is display text only.
const (
	CodeBadRequest      = "BadRequest"
	CodeUnauthorized    = "Unauthorized"
	CodeForbidden       = "Forbidden"
	CodeRbacDenied      = "RbacDenied"
	CodeNotFound        = "NotFound"
	CodeConflict        = "Conflict"
	CodeQuotaExceeded   = "QuotaExceeded"
	CodeRedemptionError = "RedemptionError"
	CodeInternal        = "InternalError"
)

// ErrorResponse is the standard failure payload.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Message       string   `json:"message,omitempty"`
	DeniedActions []string `json:"deniedActions,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a coded JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// WriteRbacDenied writes the 403 payload for an RBAC denial. deniedActions
// preserves the order the caller requested the actions in.
func WriteRbacDenied(w http.ResponseWriter, deniedActions []string) {
	WriteJSON(w, http.StatusForbidden, ErrorResponse{
		Error:         CodeRbacDenied,
		DeniedActions: deniedActions,
	})
}

// WriteForbidden writes the 403 payload for a non-member or tenant-mismatch
// rejection, distinct from an RBAC denial.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// WriteQuotaExceeded writes the 403 payload for a quota rejection
func WriteQuotaExceeded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeQuotaExceeded, message)
}

// WriteRedemptionError writes the 400 payload for a failed coupon redemption
func WriteRedemptionError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeRedemptionError, message)
}

// WriteInternalError writes a 500 without echoing the underlying error to the
// client
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
