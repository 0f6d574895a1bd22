package hub

// Event types pushed to connected UI sessions. Every message is a JSON
// object with a "type" field plus event-specific payload keys.
const (
	EventSignalReceived   = "signal_received"
	EventTelegramMessage  = "telegram_message"
	EventApprovalRequired = "signal_approval_required"
	EventExecutionUpdate  = "execution_update"
	EventError            = "error"
	EventPositionUpdate   = "position_update"
	EventPositionClosed   = "position_closed"
	EventSignalUpdate     = "signal_update"
	EventLog              = "log"
	EventPing             = "ping"
)
