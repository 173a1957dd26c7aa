package server

func (s *Server) initRoutes() {
	// Session lifecycle
	s.RegisterRouteHandler("POST "+RouteSessionInit, ChainMiddleware(s.InitSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessionStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionDisconnect, ChainMiddleware(s.DisconnectHandler(), s.APIMiddleware()...))

	// Discovery
	s.RegisterRouteHandler("GET "+RouteSessionGroups, ChainMiddleware(s.GroupsHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessionContacts, ChainMiddleware(s.ContactsHandler(), s.APIMiddleware()...))

	// Dispatch
	s.RegisterRouteHandler("POST "+RouteSessionSend, ChainMiddleware(s.SendHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionSendFile, ChainMiddleware(s.SendFileHandler(), s.APIMiddleware()...))

	// Event relay push; the WebSocket upgrade does its own origin check
	s.RegisterRouteFunc("GET "+RouteSessionEvents, s.EventsHandler())
	s.RegisterRouteFunc("GET "+RouteSessionEventsTenant, s.EventsHandler())

	// Operational
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
