package models

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ServerStatus represents the liveness state of a Watchout server.
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
)

// DiscoveryMethod indicates how a server was discovered.
type DiscoveryMethod string

const (
	DiscoveryPortScan      DiscoveryMethod = "port-scan"
	DiscoveryMulticast     DiscoveryMethod = "multicast"
	DiscoveryMulticastJSON DiscoveryMethod = "multicast-json"
	DiscoveryBonjour       DiscoveryMethod = "bonjour"
	DiscoveryManual        DiscoveryMethod = "manual"
)

// Well-known Watchout ports.
const (
	PortProduction   = 3040
	PortDisplay      = 3041
	PortAssetManager = 3042
	PortWebAPI       = 3022

	PortDiscoveryQuery    = 3011
	PortDiscoveryResponse = 3012
)

// OperationalPorts are the TCP ports a running Watchout node listens on.
var OperationalPorts = []int{PortProduction, PortDisplay, PortAssetManager}

// DiscoveryPorts are the UDP query/response ports of the discovery protocol.
var DiscoveryPorts = []int{PortDiscoveryQuery, PortDiscoveryResponse}

// DefaultManualPorts is the port set given to manually added servers.
var DefaultManualPorts = []int{PortProduction, PortDisplay, PortAssetManager, PortWebAPI}

// Capabilities are the feature flags a Watchout node advertises.
type Capabilities struct {
	ArtNet bool `json:"artnet"`
	OSC    bool `json:"osc"`
	WebUI  bool `json:"webui"`
	WO7    bool `json:"wo7"`
	WO6    bool `json:"wo6"`
}

// NetworkInterface is an [ip, mac] pair reported by a Watchout node.
type NetworkInterface [2]string

// ServerRecord represents a discovered or manually added Watchout server.
type ServerRecord struct {
	IP                string          `json:"ip"`
	Hostname          string          `json:"hostname"`
	Ports             []int           `json:"ports"`
	Type              string          `json:"type"`
	DiscoveryMethod   DiscoveryMethod `json:"discoveryMethod"`
	Status            ServerStatus    `json:"status"`
	IsManual          bool            `json:"isManual"`
	DiscoveredAt      time.Time       `json:"discoveredAt,omitzero"`
	LastSeenAt        time.Time       `json:"lastSeenAt,omitzero"`
	FirstDiscoveredAt time.Time       `json:"firstDiscoveredAt,omitzero"`
	OfflineSince      time.Time       `json:"offlineSince,omitzero"`

	// Metadata surfaced verbatim from multicast JSON replies.
	HostRef      string             `json:"hostRef,omitempty"`
	MachineID    string             `json:"machineId,omitempty"`
	Services     []string           `json:"services,omitempty"`
	Version      string             `json:"version,omitempty"`
	DirShow      string             `json:"dirShow,omitempty"`
	RunShow      string             `json:"runShow,omitempty"`
	WOTime       *bool              `json:"woTime,omitempty"`
	Interfaces   []NetworkInterface `json:"interfaces,omitempty"`
	Capabilities *Capabilities      `json:"capabilities,omitempty"`
	Licensed     *bool              `json:"licensed,omitempty"`
	RawResponse  json.RawMessage    `json:"rawResponse,omitempty"`
}

// IdentityKey returns the registry key for a server: ip + ":" + sorted ports
// joined by commas. The input slice is not modified.
func IdentityKey(ip string, ports []int) string {
	sorted := slices.Clone(ports)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return ip + ":" + strings.Join(parts, ",")
}

// Key returns the record's identity key.
func (r ServerRecord) Key() string {
	return IdentityKey(r.IP, r.Ports)
}

// Clone returns a deep copy of the record.
func (r ServerRecord) Clone() ServerRecord {
	c := r
	c.Ports = slices.Clone(r.Ports)
	c.Services = slices.Clone(r.Services)
	c.Interfaces = slices.Clone(r.Interfaces)
	c.RawResponse = slices.Clone(r.RawResponse)
	if r.Capabilities != nil {
		caps := *r.Capabilities
		c.Capabilities = &caps
	}
	if r.WOTime != nil {
		v := *r.WOTime
		c.WOTime = &v
	}
	if r.Licensed != nil {
		v := *r.Licensed
		c.Licensed = &v
	}
	return c
}

// Merge overlays every field set on overlay onto base and returns the
// result. Zero-valued overlay fields leave the base value in place.
func Merge(base, overlay ServerRecord) ServerRecord {
	out := base.Clone()
	o := overlay.Clone()

	if o.IP != "" {
		out.IP = o.IP
	}
	if o.Hostname != "" {
		out.Hostname = o.Hostname
	}
	if o.Ports != nil {
		out.Ports = o.Ports
	}
	if o.Type != "" {
		out.Type = o.Type
	}
	if o.DiscoveryMethod != "" {
		out.DiscoveryMethod = o.DiscoveryMethod
	}
	if o.Status != "" {
		out.Status = o.Status
	}
	if o.IsManual {
		out.IsManual = true
	}
	if !o.DiscoveredAt.IsZero() {
		out.DiscoveredAt = o.DiscoveredAt
	}
	if !o.LastSeenAt.IsZero() {
		out.LastSeenAt = o.LastSeenAt
	}
	if !o.FirstDiscoveredAt.IsZero() {
		out.FirstDiscoveredAt = o.FirstDiscoveredAt
	}
	if !o.OfflineSince.IsZero() {
		out.OfflineSince = o.OfflineSince
	}
	if o.HostRef != "" {
		out.HostRef = o.HostRef
	}
	if o.MachineID != "" {
		out.MachineID = o.MachineID
	}
	if o.Services != nil {
		out.Services = o.Services
	}
	if o.Version != "" {
		out.Version = o.Version
	}
	if o.DirShow != "" {
		out.DirShow = o.DirShow
	}
	if o.RunShow != "" {
		out.RunShow = o.RunShow
	}
	if o.WOTime != nil {
		out.WOTime = o.WOTime
	}
	if o.Interfaces != nil {
		out.Interfaces = o.Interfaces
	}
	if o.Capabilities != nil {
		out.Capabilities = o.Capabilities
	}
	if o.Licensed != nil {
		out.Licensed = o.Licensed
	}
	if len(o.RawResponse) > 0 {
		out.RawResponse = o.RawResponse
	}
	return out
}
