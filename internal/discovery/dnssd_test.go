//go:build !windows

package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPServiceType(t *testing.T) {
	tests := []struct {
		target string
		want   string
		ok     bool
	}{
		{"_http._tcp.local.", "_http._tcp", true},
		{"_Watchout._TCP.local.", "_watchout._tcp", true},
		{"_osc._tcp", "_osc._tcp", true},
		{"_sleep-proxy._udp.local.", "", false},
		{"printer._ipp._tcp.local.", "", false},
		{"_._tcp.local.", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, ok := tcpServiceType(tt.target)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// serveServiceTypes answers one DNS-SD meta-query on a loopback socket
// with a PTR per target.
func serveServiceTypes(t *testing.T, targets ...string) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 65536)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var q dns.Msg
		if q.Unpack(buf[:n]) != nil || len(q.Question) != 1 || q.Question[0].Name != serviceEnumeration {
			return
		}
		resp := new(dns.Msg)
		resp.SetReply(&q)
		for _, target := range targets {
			resp.Answer = append(resp.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: serviceEnumeration, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
				Ptr: target,
			})
		}
		out, err := resp.Pack()
		if err != nil {
			return
		}
		_, _ = conn.WriteToUDP(out, from)
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestEnumerateServiceTypes(t *testing.T) {
	dst := serveServiceTypes(t, "_dataton-ctl._tcp.local.", "_http._tcp.local.", "_sleep-proxy._udp.local.", "_http._tcp.local.")

	types, err := enumerateServiceTypes(context.Background(), dst, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"_dataton-ctl._tcp", "_http._tcp"}, types)
}

func TestEnumerateServiceTypes_NoResponders(t *testing.T) {
	dst := serveServiceTypes(t)

	start := time.Now()
	types, err := enumerateServiceTypes(context.Background(), dst, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, types)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMergeServiceTypes(t *testing.T) {
	base := []string{"_watchout._tcp", "_http._tcp"}
	got := mergeServiceTypes(base, []string{"_http._tcp", "_dataton-ctl._tcp"})
	assert.Equal(t, []string{"_watchout._tcp", "_http._tcp", "_dataton-ctl._tcp"}, got)
	assert.Len(t, base, 2, "base is not modified")
}
