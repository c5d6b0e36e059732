package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func listenLocal(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestConnectScanner_FindsOpenPorts(t *testing.T) {
	open1 := listenLocal(t)
	open2 := listenLocal(t)
	closed := closedPort(t)

	s := NewConnectScanner(500*time.Millisecond, 4, zap.NewNop())
	hosts, err := s.Scan(context.Background(), "127.0.0.1", []int{open2, closed, open1})
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "127.0.0.1", hosts[0].IP)

	want := []int{open1, open2}
	if open2 < open1 {
		want = []int{open2, open1}
	}
	assert.Equal(t, want, hosts[0].OpenPorts)
}

func TestConnectScanner_InvalidTarget(t *testing.T) {
	s := NewConnectScanner(0, 0, zap.NewNop())
	_, err := s.Scan(context.Background(), "not-a-range", []int{3040})
	assert.Error(t, err)
}

func TestConnectScanner_CancelledContext(t *testing.T) {
	s := NewConnectScanner(0, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hosts, err := s.Scan(ctx, "127.0.0.1", []int{closedPort(t)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, hosts)
}
