package sessions

// StatusService answers "is this tenant connected, and what is its pairing
// code". The registry's cached flag is only an event-driven optimization;
// the live check against the handle is ground truth and overrides it.
type StatusService struct {
	registry *Registry
}

func NewStatusService(registry *Registry) *StatusService {
	return &StatusService{registry: registry}
}

// GetStatus never fails: an unknown tenant, or a session whose liveness
// cannot be confirmed, reports disconnected.
func (s *StatusService) GetStatus(tenantID string) Status {
	cli, ok := s.registry.Client(tenantID)
	if !ok {
		return Status{}
	}

	if clientConnected(cli) {
		// Connected sessions never report a stale pairing code.
		s.registry.MarkConnected(tenantID)
		return Status{Connected: true}
	}

	s.registry.MarkDisconnected(tenantID)
	status, _ := s.registry.Status(tenantID)
	return status
}
