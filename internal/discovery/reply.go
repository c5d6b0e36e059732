package discovery

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/HerbHall/wofinder/pkg/models"
)

// ReplyKind classifies a multicast datagram.
type ReplyKind int

const (
	// ReplyUnrecognized is anything that is not a Watchout answer.
	ReplyUnrecognized ReplyKind = iota
	// ReplyStructured is a JSON discovery reply.
	ReplyStructured
	// ReplyText is a plain-text payload naming Watchout.
	ReplyText
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyStructured:
		return "structured"
	case ReplyText:
		return "text"
	default:
		return "unrecognized"
	}
}

// Reply is a decoded multicast datagram. Info is set for ReplyStructured.
type Reply struct {
	Kind ReplyKind
	Info *WatchoutInfo
	Text string
}

// WatchoutInfo is the normalized content of a JSON discovery reply.
type WatchoutInfo struct {
	Hostname     string
	HostRef      string
	MachineID    string
	Services     []string
	Version      string
	DirShow      string
	RunShow      string
	WOTime       *bool
	Interfaces   []models.NetworkInterface
	Capabilities *models.Capabilities
	Licensed     *bool
	Raw          json.RawMessage
}

// fingerprintKeys mark a JSON object as a Watchout reply when any is present.
var fingerprintKeys = []string{"hostRef", "host_ref", "machineId", "machine_id", "services", "version", "wo7", "wo6"}

// DecodeReply classifies payload once: a JSON object carrying a Watchout
// fingerprint is structured; a non-JSON payload naming a Watchout
// identifier is text; everything else is unrecognized.
func DecodeReply(payload []byte) Reply {
	payload = bytes.TrimSpace(payload)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		text := string(payload)
		if containsIdentifier(text) {
			return Reply{Kind: ReplyText, Text: text}
		}
		return Reply{Kind: ReplyUnrecognized, Text: text}
	}

	fingerprinted := false
	for _, k := range fingerprintKeys {
		if _, ok := fields[k]; ok {
			fingerprinted = true
			break
		}
	}
	if !fingerprinted {
		return Reply{Kind: ReplyUnrecognized}
	}

	return Reply{Kind: ReplyStructured, Info: normalize(fields, payload)}
}

func normalize(f map[string]json.RawMessage, raw []byte) *WatchoutInfo {
	info := &WatchoutInfo{
		Hostname:  stringField(f, "hostname", "host_name"),
		HostRef:   stringField(f, "hostRef", "host_ref"),
		MachineID: stringField(f, "machineId", "machine_id"),
		Version:   stringField(f, "version"),
		DirShow:   stringField(f, "dirShow", "dir_show"),
		RunShow:   stringField(f, "runShow", "run_show"),
		WOTime:    boolField(f, "woTime", "wo_time"),
		Licensed:  boolField(f, "licensed"),
		Raw:       json.RawMessage(bytes.Clone(raw)),
	}

	if v, ok := first(f, "services"); ok {
		var services []string
		if json.Unmarshal(v, &services) == nil {
			info.Services = services
		}
	}

	if v, ok := first(f, "interfaces"); ok {
		var pairs [][]string
		if json.Unmarshal(v, &pairs) == nil {
			for _, p := range pairs {
				var iface models.NetworkInterface
				copy(iface[:], p)
				info.Interfaces = append(info.Interfaces, iface)
			}
		}
	}

	info.Capabilities = capabilities(f)
	return info
}

// capabilities reads feature flags from a nested "capabilities" object or
// from top-level flags. It returns nil when no flag is present.
func capabilities(f map[string]json.RawMessage) *models.Capabilities {
	src := f
	if v, ok := f["capabilities"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(v, &nested) == nil {
			src = nested
		}
	}

	var caps models.Capabilities
	found := false
	set := func(dst *bool, keys ...string) {
		if b := boolField(src, keys...); b != nil {
			*dst = *b
			found = true
		}
	}
	set(&caps.ArtNet, "artnet", "art_net")
	set(&caps.OSC, "osc")
	set(&caps.WebUI, "webui", "web_ui")
	set(&caps.WO7, "wo7")
	set(&caps.WO6, "wo6")
	if !found {
		return nil
	}
	return &caps
}

// watchoutType classifies a structured reply by its advertised services.
func watchoutType(info *WatchoutInfo) string {
	var director, assets, display bool
	for _, s := range info.Services {
		switch strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)) {
		case "director":
			director = true
		case "assetmanager":
			assets = true
		case "display":
			display = true
		}
	}

	switch {
	case director && assets:
		return "Watchout Production Server (JSON)"
	case director:
		return "Watchout Director (JSON)"
	case display:
		return "Watchout Display Server (JSON)"
	case assets:
		return "Watchout Asset Manager (JSON)"
	case info.Version != "":
		return "Watchout Server v" + info.Version + " (JSON)"
	default:
		return "Watchout Server (JSON)"
	}
}

func first(f map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// stringField returns the first present key as a string. Numbers are kept
// in their literal form so a version like 7.2 survives.
func stringField(f map[string]json.RawMessage, keys ...string) string {
	v, ok := first(f, keys...)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

func boolField(f map[string]json.RawMessage, keys ...string) *bool {
	v, ok := first(f, keys...)
	if !ok {
		return nil
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return &b
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		if parsed, err := strconv.ParseBool(s); err == nil {
			return &parsed
		}
	}
	return nil
}
