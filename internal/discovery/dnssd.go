//go:build !windows

package discovery

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// serviceEnumeration is the DNS-SD meta-query name answered with one PTR
// per service type advertised on the link (RFC 6763 section 9).
const serviceEnumeration = "_services._dns-sd._udp.local."

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// enumerateServiceTypes sends the DNS-SD meta-query to dst from an
// ephemeral port and collects the advertised TCP service types, such as
// "_http._tcp", until window elapses or ctx is done. Responders answer a
// query from a port other than 5353 by unicast.
func enumerateServiceTypes(ctx context.Context, dst *net.UDPAddr, window time.Duration) ([]string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	q := new(dns.Msg)
	q.SetQuestion(serviceEnumeration, dns.TypePTR)
	q.RecursionDesired = false
	q.Id = 0
	buf, err := q.Pack()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(buf, dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	var types []string
	pkt := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(pkt)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return types, err
		}
		var msg dns.Msg
		if msg.Unpack(pkt[:n]) != nil || !msg.Response {
			continue
		}
		for _, rr := range slices.Concat(msg.Answer, msg.Extra) {
			ptr, ok := rr.(*dns.PTR)
			if !ok || !strings.EqualFold(ptr.Hdr.Name, serviceEnumeration) {
				continue
			}
			if typ, ok := tcpServiceType(ptr.Ptr); ok && !slices.Contains(types, typ) {
				types = append(types, typ)
			}
		}
	}
	return types, ctx.Err()
}

// tcpServiceType turns a PTR target such as "_http._tcp.local." into
// "_http._tcp". Non-TCP types are rejected.
func tcpServiceType(target string) (string, bool) {
	name := strings.ToLower(strings.TrimSuffix(target, "."))
	name = strings.TrimSuffix(name, ".local")
	labels := strings.Split(name, ".")
	if len(labels) != 2 || labels[1] != "_tcp" || !strings.HasPrefix(labels[0], "_") || len(labels[0]) < 2 {
		return "", false
	}
	return name, true
}
