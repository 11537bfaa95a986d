// Package dns resolves the relay host for the signaling dialer. Captive or
// broken system resolvers are common on the networks calls are placed from,
// so a failed system lookup falls back to racing public resolvers.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// LookupFunc queries one resolver. server is empty for the system resolver.
type LookupFunc func(ctx context.Context, server, host string) ([]string, error)

// Resolver remembers the last address each host resolved to and reuses it
// when every resolver fails, so a reconnect survives a resolver outage.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
	Lookup       LookupFunc
	Logger       *slog.Logger

	mu    sync.Mutex
	known map[string]string
}

func NewResolver() *Resolver {
	return &Resolver{
		Servers:      publicDNS,
		LocalTimeout: time.Second,
		RaceTimeout:  2 * time.Second,
		Lookup:       lookupHost,
	}
}

var defaultResolver = NewResolver()

// DialContext dials through the process-wide resolver. It plugs into
// websocket.Dialer.NetDialContext.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return defaultResolver.DialContext(ctx, network, addr)
}

func (r *Resolver) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Resolve returns one address for host, preferring IPv4.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := r.query(ctx, r.LocalTimeout, "", host)
	if err == nil {
		r.remember(host, ip)
		return ip, nil
	}
	r.log().Debug("system dns lookup failed, racing public resolvers", "host", host, "error", err)

	ip, err = r.race(ctx, host)
	if err == nil {
		r.remember(host, ip)
		return ip, nil
	}

	if last, ok := r.lastKnown(host); ok {
		r.log().Warn("dns unavailable, reusing last known address", "host", host, "ip", last, "error", err)
		return last, nil
	}
	return "", err
}

func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	d := net.Dialer{KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) query(ctx context.Context, timeout time.Duration, server, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ips, err := r.Lookup(ctx, server, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no addresses returned")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// race asks every public server at once and takes the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			ip, err := r.query(ctx, r.RaceTimeout, server, host)
			results <- result{ip: ip, err: err}
		}()
	}

	var errs []error
	for range r.Servers {
		res := <-results
		if res.err == nil {
			return res.ip, nil
		}
		errs = append(errs, res.err)
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed: %w", host, len(r.Servers), errors.Join(errs...))
}

func (r *Resolver) remember(host, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known == nil {
		r.known = make(map[string]string)
	}
	r.known[host] = ip
}

func (r *Resolver) lastKnown(host string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ip, ok := r.known[host]
	return ip, ok
}

func lookupHost(ctx context.Context, server, host string) ([]string, error) {
	if server == "" {
		return net.DefaultResolver.LookupHost(ctx, host)
	}
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return res.LookupHost(ctx, host)
}
