// pkg/models/api.go
package models

// Validation error response with per-field messages
type ValidationErrorResponse struct {
	Error  string              `json:"error" example:"Validation failed"`
	Code   string              `json:"code" example:"INVALID_TITLE"`
	Errors map[string][]string `json:"errors"`
}

// Generic error response (401/403/404/409/500)
type ErrorResponse struct {
	Error string `json:"error" example:"Service request not found"`
	Code  string `json:"code,omitempty" example:"NOT_FOUND"`
}

// Pagination block shared by list endpoints
type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}
