package daemon

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// EndpointConfig describes one upstream coin-daemon RPC endpoint.
type EndpointConfig struct {
	URL  string
	User string
	Pass string
	// CookiePath, if set, is watched for bitcoind-style cookie-file auth
	// (user:pass written as a single line, reloaded on change) and takes
	// precedence over a static User/Pass once loaded.
	CookiePath string
}

// endpoint is the live, mutable state for one configured upstream.
type endpoint struct {
	cfg    EndpointConfig
	client *http.Client

	authMu        sync.RWMutex
	user, pass    string
	cookieModTime time.Time
	cookieSize    int64

	healthMu  sync.Mutex
	connected bool
	lastErr   error
}

func newEndpoint(cfg EndpointConfig) *endpoint {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   60 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	ep := &endpoint{
		cfg:  cfg,
		user: cfg.User,
		pass: cfg.Pass,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
	ep.reloadCookieIfChanged()
	return ep
}

func (e *endpoint) label() string {
	raw := strings.TrimSpace(e.cfg.URL)
	if raw == "" {
		return "(unknown)"
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	if idx := strings.Index(raw, "@"); idx != -1 && idx+1 < len(raw) {
		raw = raw[idx+1:]
	}
	return strings.TrimLeft(raw, "/")
}

func (e *endpoint) credentials() (string, string) {
	e.authMu.RLock()
	defer e.authMu.RUnlock()
	return e.user, e.pass
}

// reloadCookieIfChanged reloads CookiePath's contents if the file has
// changed since the last load, following the teacher's bitcoind .cookie
// watcher in rpc.go (initCookieStat/reloadCookieIfChanged).
func (e *endpoint) reloadCookieIfChanged() {
	path := strings.TrimSpace(e.cfg.CookiePath)
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	e.authMu.RLock()
	unchanged := info.ModTime().Equal(e.cookieModTime) && info.Size() == e.cookieSize
	e.authMu.RUnlock()
	if unchanged {
		return
	}
	user, pass, err := readCookieFile(path)
	if err != nil {
		return
	}
	e.authMu.Lock()
	e.user, e.pass = user, pass
	e.cookieModTime = info.ModTime()
	e.cookieSize = info.Size()
	e.authMu.Unlock()
}

func readCookieFile(path string) (user, pass string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	line := strings.TrimSpace(string(data))
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", &RPCError{Code: -1, Message: "malformed cookie file " + path}
	}
	return parts[0], parts[1], nil
}

// StartCookieWatcher polls CookiePath on interval and hot-swaps credentials
// for every configured endpoint until the returned stop func is called.
// Safe to call once per Client.
func (c *Client) StartCookieWatcher(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, ep := range c.endpoints {
					ep.reloadCookieIfChanged()
				}
			}
		}
	}()
	return func() { close(done) }
}

func (e *endpoint) markHealthy() {
	e.healthMu.Lock()
	e.connected = true
	e.lastErr = nil
	e.healthMu.Unlock()
}

func (e *endpoint) markUnhealthy(err error) {
	e.healthMu.Lock()
	e.connected = false
	e.lastErr = err
	e.healthMu.Unlock()
}

func (e *endpoint) healthy() bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.connected
}
