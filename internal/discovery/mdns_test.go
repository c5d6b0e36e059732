//go:build !windows

package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/pkg/models"
)

func TestBonjourRecord(t *testing.T) {
	tests := []struct {
		name    string
		entry   *mdns.ServiceEntry
		service string
		wantOK  bool
		wantIP  string
		want    string
	}{
		{
			name:    "watchout service type",
			entry:   &mdns.ServiceEntry{Name: "Node A._watchout._tcp.local.", Host: "node-a.local.", AddrV4: net.ParseIP("10.0.0.5"), Port: 8080},
			service: "_watchout._tcp",
			wantOK:  true, wantIP: "10.0.0.5", want: "node-a.local",
		},
		{
			name:    "identifier in name",
			entry:   &mdns.ServiceEntry{Name: "Dataton Display 2._http._tcp.local.", AddrV4: net.ParseIP("10.0.0.6"), Port: 80},
			service: "_http._tcp",
			wantOK:  true, wantIP: "10.0.0.6", want: "Dataton Display 2._http._tcp.local.",
		},
		{
			name:    "identifier in txt",
			entry:   &mdns.ServiceEntry{Name: "box", Host: "box.local.", Info: "vendor=WATCHOUT", AddrV4: net.ParseIP("10.0.0.7"), Port: 445},
			service: "_smb._tcp",
			wantOK:  true, wantIP: "10.0.0.7", want: "box.local",
		},
		{
			name:    "known port",
			entry:   &mdns.ServiceEntry{Name: "box", Host: "box.local.", AddrV4: net.ParseIP("10.0.0.8"), Port: models.PortProduction},
			service: "_http._tcp",
			wantOK:  true, wantIP: "10.0.0.8", want: "box.local",
		},
		{
			name:    "legacy addr field",
			entry:   &mdns.ServiceEntry{Name: "watchout", Addr: net.ParseIP("10.0.0.9"), Port: 80},
			service: "_http._tcp",
			wantOK:  true, wantIP: "10.0.0.9", want: "watchout",
		},
		{
			name:    "unrelated",
			entry:   &mdns.ServiceEntry{Name: "printer", Host: "printer.local.", AddrV4: net.ParseIP("10.0.0.10"), Port: 631},
			service: "_http._tcp",
		},
		{
			name:    "no ipv4",
			entry:   &mdns.ServiceEntry{Name: "watchout", Host: "w.local.", AddrV6: net.ParseIP("fe80::1"), Port: 3040},
			service: "_watchout._tcp",
		},
		{name: "nil entry", service: "_watchout._tcp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := bonjourRecord(tt.entry, tt.service)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantIP, rec.IP)
			assert.Equal(t, tt.want, rec.Hostname)
			assert.Equal(t, []int{tt.entry.Port}, rec.Ports)
			assert.Equal(t, "Watchout Server (Bonjour)", rec.Type)
			assert.Equal(t, models.DiscoveryBonjour, rec.DiscoveryMethod)
		})
	}
}

func newTestBonjourProbe(query func(*mdns.QueryParam) error) *BonjourProbe {
	return &BonjourProbe{
		services:  []string{"_http._tcp", "_osc._tcp"},
		timeout:   100 * time.Millisecond,
		logger:    zap.NewNop(),
		available: true,
		query:     query,
	}
}

func TestBonjourProbe_BrowsesEveryServiceAndDedups(t *testing.T) {
	var calls atomic.Int32
	p := newTestBonjourProbe(func(params *mdns.QueryParam) error {
		calls.Add(1)
		assert.True(t, params.DisableIPv6)
		assert.LessOrEqual(t, params.Timeout, 100*time.Millisecond)
		params.Entries <- &mdns.ServiceEntry{Name: "watchout-a", Host: "a.local.", AddrV4: net.ParseIP("10.0.0.5"), Port: 3040}
		params.Entries <- &mdns.ServiceEntry{Name: "printer", AddrV4: net.ParseIP("10.0.0.6"), Port: 631}
		return nil
	})
	sink := &collector{}

	require.NoError(t, p.Run(context.Background(), sink))
	assert.Equal(t, int32(2), calls.Load())

	got := sink.all()
	require.Len(t, got, 1, "same identity from two service types is reported once")
	assert.Equal(t, "10.0.0.5:3040", got[0].Key())
}

func TestBonjourProbe_BrowsesEnumeratedTypes(t *testing.T) {
	var (
		mu      sync.Mutex
		browsed []string
	)
	p := newTestBonjourProbe(func(params *mdns.QueryParam) error {
		mu.Lock()
		browsed = append(browsed, params.Service)
		mu.Unlock()
		if params.Service == "_dataton-ctl._tcp" {
			params.Entries <- &mdns.ServiceEntry{Name: "stage", Host: "stage.local.", AddrV4: net.ParseIP("10.0.0.20"), Port: models.PortProduction}
		}
		return nil
	})
	p.enumerate = func(context.Context, time.Duration) ([]string, error) {
		return []string{"_osc._tcp", "_dataton-ctl._tcp"}, nil
	}
	sink := &collector{}

	require.NoError(t, p.Run(context.Background(), sink))
	assert.ElementsMatch(t, []string{"_http._tcp", "_osc._tcp", "_dataton-ctl._tcp"}, browsed)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.20", got[0].IP)
}

func TestBonjourProbe_EnumerationFailureFallsBackToFixedTypes(t *testing.T) {
	var calls atomic.Int32
	p := newTestBonjourProbe(func(*mdns.QueryParam) error { calls.Add(1); return nil })
	p.enumerate = func(context.Context, time.Duration) ([]string, error) {
		return nil, errors.New("network unreachable")
	}

	require.NoError(t, p.Run(context.Background(), &collector{}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBonjourProbe_QueryErrorIsLogged(t *testing.T) {
	p := newTestBonjourProbe(func(*mdns.QueryParam) error { return errors.New("no route") })
	sink := &collector{}

	assert.NoError(t, p.Run(context.Background(), sink))
	assert.Empty(t, sink.all())
}

func TestBonjourProbe_UnavailableIsNoop(t *testing.T) {
	var called bool
	p := newTestBonjourProbe(func(*mdns.QueryParam) error { called = true; return nil })
	p.available = false

	assert.NoError(t, p.Run(context.Background(), &collector{}))
	assert.False(t, called)
	assert.False(t, p.Available())
}

func TestBonjourProbe_ExpiredContext(t *testing.T) {
	p := newTestBonjourProbe(func(*mdns.QueryParam) error { return nil })
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	assert.ErrorIs(t, p.Run(ctx, &collector{}), context.DeadlineExceeded)
}
