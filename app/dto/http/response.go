package http

type ErrorResponse struct {
	Error string `json:"error"`
}

type QuotaExceededResponse struct {
	Error      string `json:"error"`
	Window     string `json:"window"`
	Limit      int64  `json:"limit"`
	Count      int64  `json:"count"`
	RetryAfter int64  `json:"retry_after"`
}

type WindowUsageResponse struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
}

type RateLimitStatusResponse struct {
	PrincipalID uint64                         `json:"principal_id"`
	Plan        string                         `json:"plan"`
	Windows     map[string]WindowUsageResponse `json:"windows"`
	Degraded    bool                           `json:"degraded,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
