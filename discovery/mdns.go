// Package discovery implements the three VISA enumeration sources:
// mDNS for LXI/HiSLIP instruments, USB enumeration for USBTMC, and a
// serial port scan for ASRL. Results from all three are merged,
// glob-filtered, de-duplicated, and capped the same way find_resources
// exposes them to callers.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
)

const (
	mdnsGroup = "224.0.0.251"
	mdnsPort  = 5353

	serviceLXI    = "_lxi._tcp.local."
	serviceHiSLIP = "_hislip._tcp.local."

	// perServiceWindow bounds how long MDNSDiscover listens for answers
	// to one PTR query before moving to the next service name.
	perServiceWindow = 2500 * time.Millisecond
)

// mdnsRecord accumulates what a PTR/SRV/A answer set tells us about one
// advertised instance (keyed by instance name), or about one host name
// for an A record that matched no entry yet.
type mdnsRecord struct {
	instance string
	host     string
	port     uint16
	ipv4     net.IP
}

// MDNSDiscover queries `_lxi._tcp.local` and `_hislip._tcp.local` over
// multicast DNS and returns one VISA resource string per resolved
// instance: the VXI-11/HiSLIP INSTR form always, plus a SOCKET form
// when the advertised service is LXI raw-socket reachable.
func MDNSDiscover(ctx context.Context) ([]string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns listen: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	iface, group, err := multicastGroup()
	if err != nil {
		return nil, err
	}
	if err := pconn.JoinGroup(iface, group); err != nil {
		return nil, fmt.Errorf("discovery: mdns join group: %w", err)
	}
	pconn.SetMulticastTTL(255)
	pconn.SetMulticastLoopback(false)

	var out []string
	for _, svc := range []string{serviceLXI, serviceHiSLIP} {
		records, err := queryService(ctx, conn, svc)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.ipv4 == nil {
				continue
			}
			if svc == serviceHiSLIP {
				out = append(out, fmt.Sprintf("TCPIP0::%s::hislip0::INSTR", r.ipv4))
			} else {
				out = append(out, fmt.Sprintf("TCPIP0::%s::inst0::INSTR", r.ipv4))
				if r.port != 0 {
					out = append(out, fmt.Sprintf("TCPIP0::%s::%d::SOCKET", r.ipv4, r.port))
				}
			}
		}
	}
	return out, nil
}

// multicastGroup resolves the well-known mDNS group address and a
// reasonable outgoing interface. A nil interface lets the kernel pick
// the default multicast-capable one.
func multicastGroup() (*net.Interface, *net.UDPAddr, error) {
	group := &net.UDPAddr{IP: net.ParseIP(mdnsGroup), Port: mdnsPort}
	return nil, group, nil
}

// queryService sends one PTR query and collects answers for
// perServiceWindow, resolving SRV and A records into mdnsRecords keyed
// by instance name (A records that match no entry are keyed by their
// owner name).
func queryService(ctx context.Context, conn *net.UDPConn, service string) ([]mdnsRecord, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(service, dns.TypePTR)
	msg.RecursionDesired = false

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("discovery: pack PTR query: %w", err)
	}

	dst := &net.UDPAddr{IP: net.ParseIP(mdnsGroup), Port: mdnsPort}
	if _, err := conn.WriteToUDP(packed, dst); err != nil {
		return nil, fmt.Errorf("discovery: send PTR query: %w", err)
	}

	deadline := time.Now().Add(perServiceWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	byHost := map[string]*mdnsRecord{}
	buf := make([]byte, 9000) // mDNS over UDP may legally exceed 512 bytes
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline hit, or socket closed by the caller
		}
		reply := new(dns.Msg)
		if err := reply.Unpack(buf[:n]); err != nil {
			continue
		}
		mergeAnswers(byHost, reply.Answer)
		mergeAnswers(byHost, reply.Extra)
	}

	records := make([]mdnsRecord, 0, len(byHost))
	for _, r := range byHost {
		records = append(records, *r)
	}
	return records, nil
}

// mergeAnswers folds a batch of resource records into byHost, keyed by
// instance name (PTR target / SRV owner name); an A record that matches
// no key is stored under its owner name and its address is copied to
// every entry whose SRV target is that name, so a PTR/SRV/A triple
// spread across the answer and additional sections still resolves the
// instance's address.
func mergeAnswers(byHost map[string]*mdnsRecord, rrs []dns.RR) {
	for _, rr := range rrs {
		switch v := rr.(type) {
		case *dns.PTR:
			if _, ok := byHost[v.Ptr]; !ok {
				byHost[v.Ptr] = &mdnsRecord{instance: v.Ptr}
			}
		case *dns.SRV:
			rec, ok := byHost[v.Hdr.Name]
			if !ok {
				rec = &mdnsRecord{instance: v.Hdr.Name}
				byHost[v.Hdr.Name] = rec
			}
			rec.host = v.Target
			rec.port = v.Port
			if alias, ok := byHost[v.Target]; ok && alias.ipv4 != nil {
				rec.ipv4 = alias.ipv4
			}
		case *dns.A:
			name := v.Hdr.Name
			if rec, ok := byHost[name]; ok {
				rec.ipv4 = v.A
				continue
			}
			// Record under the A owner name too, in case the matching
			// SRV record arrives in a later packet.
			byHost[name] = &mdnsRecord{instance: name, host: name, ipv4: v.A}
			for _, rec := range byHost {
				if rec.host == name {
					rec.ipv4 = v.A
				}
			}
		}
	}
}
