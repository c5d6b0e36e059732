package testutil

import (
	"github.com/HerbHall/wofinder/pkg/models"
)

// NewServer returns a port-scan ServerRecord for 192.168.1.50 on the
// production port. Override fields with the option funcs below.
func NewServer(opts ...func(*models.ServerRecord)) models.ServerRecord {
	s := models.ServerRecord{
		IP:              "192.168.1.50",
		Hostname:        "192.168.1.50",
		Ports:           []int{models.PortProduction},
		Type:            "Watchout Server (Port Scan)",
		DiscoveryMethod: models.DiscoveryPortScan,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithIP sets the server IP. The hostname follows unless set separately.
func WithIP(ip string) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) {
		s.IP = ip
		s.Hostname = ip
	}
}

// WithPorts sets the server port set.
func WithPorts(ports ...int) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) { s.Ports = ports }
}

// WithHostname sets the display name.
func WithHostname(name string) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) { s.Hostname = name }
}

// WithMethod sets the discovery method.
func WithMethod(m models.DiscoveryMethod) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) { s.DiscoveryMethod = m }
}

// WithType sets the classification string.
func WithType(typ string) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) { s.Type = typ }
}

// WithServices sets the advertised Watchout services.
func WithServices(services ...string) func(*models.ServerRecord) {
	return func(s *models.ServerRecord) { s.Services = services }
}
