// Package discovery finds Watchout servers on the local network and tracks
// their liveness across scan cycles.
package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/HerbHall/wofinder/pkg/models"
)

// Sink receives records as a probe finds them. It must be safe for
// concurrent use.
type Sink interface {
	AddServer(rec models.ServerRecord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec models.ServerRecord)

func (f SinkFunc) AddServer(rec models.ServerRecord) { f(rec) }

// Probe is one discovery mechanism. Run reports matches to sink and returns
// once ctx is done or the mechanism has nothing more to report. Errors are
// advisory: the caller logs them and moves on.
type Probe interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// TimeoutProbe is implemented by probes that need a window other than the
// service-wide probe timeout.
type TimeoutProbe interface {
	Timeout() time.Duration
}

// watchoutIdentifiers are matched case-insensitively against free text
// (multicast payloads, Bonjour names) to recognize Watchout nodes.
var watchoutIdentifiers = []string{"watchout", "dataton", "production", "display"}

// containsIdentifier reports whether s mentions any Watchout identifier.
func containsIdentifier(s string) bool {
	lower := strings.ToLower(s)
	for _, id := range watchoutIdentifiers {
		if strings.Contains(lower, id) {
			return true
		}
	}
	return false
}

// isWatchoutPort reports whether port is one of the known Watchout ports.
func isWatchoutPort(port int) bool {
	switch port {
	case models.PortProduction, models.PortDisplay, models.PortAssetManager,
		models.PortWebAPI, models.PortDiscoveryQuery, models.PortDiscoveryResponse:
		return true
	}
	return false
}
