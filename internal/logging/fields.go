package logging

const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldSessionID = "session_id"
	FieldVisitorID = "visitor_id"
	FieldComponent = "component"
)
