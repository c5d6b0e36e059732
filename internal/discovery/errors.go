package discovery

import "errors"

var (
	// ErrInvalidIP is returned for manual servers without a valid IPv4 address.
	ErrInvalidIP = errors.New("invalid IPv4 address")

	// ErrInvalidPort is returned for manual servers with a port outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrServerNotFound is returned when no server has the given identity key.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerExists is returned when an update would collide with another server.
	ErrServerExists = errors.New("server already exists")

	// ErrNotManual is returned when a manual-only operation targets a discovered server.
	ErrNotManual = errors.New("server was not added manually")

	// ErrScannerUnavailable is returned when the external port scanner is not installed.
	ErrScannerUnavailable = errors.New("port scanner unavailable")
)
