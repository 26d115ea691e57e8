// Package target expands textual address specifications into candidate
// addresses. A spec is a single IP, a CIDR block, or a hostname; CIDR blocks
// are produced lazily in ascending order so callers can cap total work
// without materializing huge ranges.
package target

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/logging"
)

const resolveTimeout = 3 * time.Second

// Candidate is one concrete address produced from a target specification.
type Candidate struct {
	// Address is the resolved IP address in textual form.
	Address string
	// Spec is the specification the address was produced from.
	Spec string
}

// EmitFunc receives candidates as they are produced. Returning false stops
// enumeration of the current spec.
type EmitFunc func(Candidate) bool

// Enumerator expands address specifications. It is stateless and safe for
// concurrent use.
type Enumerator struct {
	resolvConf string
	logger     *logging.Logger
}

// NewEnumerator creates an enumerator using the system resolver configuration.
func NewEnumerator(logger *logging.Logger) *Enumerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Enumerator{
		resolvConf: "/etc/resolv.conf",
		logger:     logger.WithComponent("enumerator"),
	}
}

// Enumerate expands one spec, calling emit for each candidate in a stable
// order. CIDR blocks yield every host address ascending, excluding network
// and broadcast addresses when the prefix length permits the distinction.
// A single address or hostname yields exactly one candidate.
func (e *Enumerator) Enumerate(ctx context.Context, spec string, emit EmitFunc) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.NewWithTarget(errors.CodeTargetInvalid, "empty target specification", spec)
	}

	if ip := net.ParseIP(spec); ip != nil {
		emit(Candidate{Address: ip.String(), Spec: spec})
		return nil
	}

	if strings.Contains(spec, "/") {
		_, ipnet, err := net.ParseCIDR(spec)
		if err != nil {
			return errors.WrapWithTarget(errors.CodeTargetInvalid, "invalid CIDR block", spec, err)
		}
		e.enumerateCIDR(ctx, spec, ipnet, emit)
		return nil
	}

	if !isHostname(spec) {
		return errors.NewWithTarget(errors.CodeTargetInvalid, "not an address, CIDR block, or hostname", spec)
	}

	ip, err := e.resolveHost(ctx, spec)
	if err != nil {
		return err
	}
	emit(Candidate{Address: ip.String(), Spec: spec})
	return nil
}

// enumerateCIDR walks the block ascending. IPv4 prefixes shorter than /31
// skip the network and broadcast addresses.
func (e *Enumerator) enumerateCIDR(ctx context.Context, spec string, ipnet *net.IPNet, emit EmitFunc) {
	ones, bits := ipnet.Mask.Size()
	skipEdges := bits == 32 && ones < 31

	ip := make(net.IP, len(ipnet.IP))
	copy(ip, ipnet.IP)

	first := true
	for ; ipnet.Contains(ip); incrementIP(ip) {
		if ctx.Err() != nil {
			return
		}
		if skipEdges && first {
			first = false
			continue
		}
		if skipEdges && isBroadcast(ip, ipnet) {
			return
		}
		if !emit(Candidate{Address: ip.String(), Spec: spec}) {
			return
		}
	}
}

// resolveHost looks up a hostname, querying the configured nameservers
// directly and falling back to the system resolver.
func (e *Enumerator) resolveHost(ctx context.Context, host string) (net.IP, error) {
	conf, err := dns.ClientConfigFromFile(e.resolvConf)
	if err == nil && len(conf.Servers) > 0 {
		if ip := e.queryNameservers(ctx, conf, host); ip != nil {
			return ip, nil
		}
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(addrs) == 0 {
		e.logger.Debug("hostname resolution failed", "host", host, "error", err)
		return nil, errors.WrapWithTarget(errors.CodeResolution, "hostname could not be resolved", host, err)
	}
	return addrs[0], nil
}

func (e *Enumerator) queryNameservers(ctx context.Context, conf *dns.ClientConfig, host string) net.IP {
	client := &dns.Client{Timeout: resolveTimeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	for _, server := range conf.Servers {
		reply, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(server, conf.Port))
		if err != nil || reply.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, answer := range reply.Answer {
			if a, ok := answer.(*dns.A); ok {
				return a.A
			}
		}
	}
	return nil
}

func isHostname(spec string) bool {
	if _, ok := dns.IsDomainName(spec); !ok {
		return false
	}
	// Reject things like malformed dotted quads that IsDomainName accepts.
	for _, r := range spec {
		if (r < '0' || r > '9') && r != '.' {
			return true
		}
	}
	return false
}

// incrementIP advances an address by one in place.
func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// isBroadcast reports whether ip is the highest address in the block.
func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	v4 := ip.To4()
	netV4 := ipnet.IP.To4()
	if v4 == nil || netV4 == nil {
		return false
	}
	mask := ipnet.Mask
	if len(mask) == 16 {
		mask = mask[12:]
	}
	for i := 0; i < 4; i++ {
		if v4[i] != netV4[i]|^mask[i] {
			return false
		}
	}
	return true
}
