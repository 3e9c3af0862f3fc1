package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID = "user_id"

	// Service
	FieldService = "service"

	// Editing session
	FieldSceneID   = "scene_id"
	FieldSessionID = "session_id"
	FieldAccess    = "access"
	FieldSeq       = "seq"
	FieldMsgType   = "msg_type"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
