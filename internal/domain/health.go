package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /readyz.
type HealthStatus struct {
	Status     string            `json:"status"` // healthy, degraded, unhealthy
	Components []ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of one dependency.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Checked string `json:"checked"`
}

// BillingMetrics is returned by GET /v1/metrics/billing.
type BillingMetrics struct {
	Registered       int64   `json:"registered"`
	RegisterFailures int64   `json:"registerFailures"`
	Unconfirmed      int64   `json:"unconfirmed"`
	TokenRefreshes   int64   `json:"tokenRefreshes"`
	GatewayErrors    int64   `json:"gatewayErrors"`
	StatusCacheHit   float64 `json:"statusCacheHitRate"`
	BatchRuns        int64   `json:"batchRuns"`
	Period           string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}
