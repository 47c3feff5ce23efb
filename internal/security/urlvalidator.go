package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/manash/cardgen/internal/config"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrUntrustedHost = errors.New("URL host is not trusted")
	ErrInvalidScheme = errors.New("URL scheme is not allowed")
	ErrInvalidURL    = errors.New("invalid URL")
)

// Policy decides which caller-supplied image URLs the service will fetch or
// forward. The zero value allows http and https to any public address.
type Policy struct {
	RequireHTTPS bool
	AllowPrivate bool
	// AllowedHosts, when non-empty, restricts URLs to these hosts and their
	// subdomains.
	AllowedHosts []string

	// Resolver is used for DNS lookups; nil means net.DefaultResolver.
	Resolver *net.Resolver
}

// NewPolicy builds the policy applied to caller-supplied URLs and to every
// URL the service fetches on their behalf.
func NewPolicy(cfg *config.Config) *Policy {
	return &Policy{
		RequireHTTPS: cfg.URLRequireHTTPS,
		AllowPrivate: cfg.URLAllowPrivate,
		AllowedHosts: slices.Clone(cfg.URLAllowedHosts),
	}
}

func (p *Policy) Validate(ctx context.Context, rawURL string) error {
	if p == nil {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if p.RequireHTTPS {
			return fmt.Errorf("%w: %s", ErrInvalidScheme, parsed.Scheme)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidScheme, parsed.Scheme)
	}

	host := parsed.Hostname()

	if len(p.AllowedHosts) > 0 && !p.isAllowedHost(host) {
		return fmt.Errorf("%w: %s", ErrUntrustedHost, host)
	}

	if p.AllowPrivate {
		return nil
	}
	return p.validateHostIP(ctx, host)
}

func (p *Policy) isAllowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range p.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (p *Policy) validateHostIP(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	// Unresolvable hosts are left to the reachability check.
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}

	for _, addr := range addrs {
		if isPrivateIP(addr.IP) {
			return ErrPrivateIP
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0:
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // CGNAT
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0:
			return true
		case ip4[0] >= 224:
			return true
		}
	}

	return false
}
