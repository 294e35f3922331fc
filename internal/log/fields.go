package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldOperation = "operation"
	FieldCursor    = "cursor"
	FieldRecords   = "records"
	FieldKind      = "kind"
	FieldID        = "id"
	FieldTool      = "tool"
	FieldDuration  = "duration_ms"
	FieldSuccess   = "success"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentSync    = "sync"
	ComponentStore   = "store"
	ComponentStorage = "storage"
	ComponentEvents  = "events"
	ComponentMCP     = "mcp"
	ComponentCache   = "cache"
	ComponentAPI     = "zenapi"
)
