package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session lifecycle
	RouteSessionInit       = "/session/init"
	RouteSessionStatus     = "/session/status/{tenant}"
	RouteSessionDisconnect = "/session/disconnect/{tenant}"

	// Discovery
	RouteSessionGroups   = "/session/groups/{tenant}"
	RouteSessionContacts = "/session/contacts/{tenant}"

	// Dispatch
	RouteSessionSend     = "/session/send/{tenant}"
	RouteSessionSendFile = "/session/send-file/{tenant}"

	// Event relay (WebSocket)
	RouteSessionEvents       = "/session/events"
	RouteSessionEventsTenant = "/session/events/{tenant}"

	// Operational
	RouteHealth = "/healthz"
)
