package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewClient returns an HTTP client whose dialer validates and pins every
// target host at connection time, so the address checked is the address
// dialed. Redirects are never followed (MaxRedirects).
func (g *Guard) NewClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			pinned, err := g.ValidateAndPin(ctx, "https://"+host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range pinned {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, fmt.Errorf("ssrf: dial %s: %w", host, lastErr)
		},
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return fmt.Errorf("%w: redirects are not followed", ErrBlocked)
		},
	}
}
