package imaging

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrUnsupportedReference = errors.New("unsupported image reference")
	ErrTooLarge             = errors.New("image exceeds size limit")
	ErrForbiddenAddress     = errors.New("image host resolves to a forbidden address")
)

const (
	DefaultMaxBytes = 32 << 20
	defaultTimeout  = 2 * time.Minute
)

// sharedAddressSpace is carrier-grade NAT space, which IsPrivate misses.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

type FetcherOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowedNetworks exempts addresses from the private address guard.
	AllowedNetworks []netip.Prefix
}

// Fetcher resolves image references: data: URLs inline, http(s) URLs over
// the network. Connections to loopback, private and link-local addresses
// are refused unless allowed. It is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	allowed  []netip.Prefix
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		maxBytes: opts.MaxBytes,
		allowed:  opts.AllowedNetworks,
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// The guard runs on every dial, redirects included, against the
	// resolved address. No proxy is used so the dialed address is the
	// image host itself.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   f.guard,
	}
	f.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return f
}

func (f *Fetcher) guard(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	if !f.Permitted(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, addr)
	}
	return nil
}

// Permitted reports whether the fetcher may connect to addr.
func (f *Fetcher) Permitted(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range f.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

// ParseNetworks reads a comma separated list of CIDR prefixes or bare
// addresses.
func ParseNetworks(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", item, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "data:"):
		data, err := DecodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > f.maxBytes {
			return nil, ErrTooLarge
		}
		return data, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.download(ctx, ref)
	}
	return nil, ErrUnsupportedReference
}

func (f *Fetcher) download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// DecodeDataURL returns the payload of a base64 or percent-encoded data: URL.
func DecodeDataURL(dataURL string) ([]byte, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return nil, errors.New("invalid data URL prefix")
	}
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return nil, errors.New("data URL missing payload")
	}

	meta := dataURL[len("data:"):comma]
	payload := dataURL[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode image base64: %w", err)
		}
		return raw, nil
	}

	raw, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return []byte(raw), nil
}

// DataURL wraps image bytes in a base64 data: URL.
func DataURL(data []byte) string {
	return "data:" + ContentType(Sniff(data)) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
