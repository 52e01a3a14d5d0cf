package api

// ErrorResponse is the body returned on every non-2xx response.
type ErrorResponse struct {
	ErrorType    string         `json:"error_type"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	Retryable    bool           `json:"retryable"`
	Details      map[string]any `json:"details,omitempty"`
}

const (
	ErrorTypeInvalidArgument = "invalid_argument"
	ErrorTypeNotFound        = "not_found"
	ErrorTypeForbidden       = "forbidden"
	ErrorTypeUnavailable     = "unavailable"
	ErrorTypeInternal        = "internal"
)

const (
	ErrorCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrorCodeEndpointNotFound = "ENDPOINT_NOT_FOUND"
	ErrorCodeRecordNotFound   = "RECORD_NOT_FOUND"
	ErrorCodeBadRequest       = "BAD_REQUEST"
	ErrorCodeNotLeader        = "NOT_LEADER"
	ErrorCodeUnavailable      = "COMPONENT_UNAVAILABLE"
	ErrorCodeWriteFailed      = "WRITE_FAILED"
)

// SampleRequest is the body for POST /samples. It lets external
// producers feed the same pipeline the local sensors use.
type SampleRequest struct {
	AssetID      string         `json:"asset_id"`
	Section      string         `json:"section"`
	Sensor       string         `json:"sensor"`
	SensorStatus string         `json:"sensor_status"`
	Fields       map[string]any `json:"fields"`
	Events       []EventBody    `json:"events,omitempty"`
}

// EventBody is an event attached to a sample.
type EventBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SampleAccepted is the response body for POST /samples.
type SampleAccepted struct {
	AssetID string `json:"asset_id"`
	Section string `json:"section"`
	Queued  bool   `json:"queued"`
}

// RecordSummary is one element of the GET /records listing.
type RecordSummary struct {
	AssetID     string `json:"asset_id"`
	AssetType   string `json:"asset_type"`
	AssetStatus string `json:"asset_status"`
	LastUpdated string `json:"last_updated"`
}

// ValidationResponse is the response body for POST /guardian/validate/{id}.
type ValidationResponse struct {
	AssetID  string   `json:"asset_id"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TopologyRequest is the body for PUT /guardian/shards.
type TopologyRequest struct {
	TotalShards int `json:"total_shards"`
}

// TopologyResponse echoes the applied topology.
type TopologyResponse struct {
	TotalShards int  `json:"total_shards"`
	Leader      bool `json:"leader"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
