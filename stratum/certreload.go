package stratum

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"
)

// CertReloader hot-swaps a TLS certificate pair off disk without
// restarting the listener, the same stat-based change detection the
// daemon package's cookie watcher uses for bitcoind's auth cookie: check
// mtime and size before paying for a re-read and re-parse.
//
// The teacher's main.go wires a TLS listener through an equivalent
// certReloader/ensureSelfSignedCert pair, but neither type's definition
// ships in this tree; this is an independent implementation of the same
// GetCertificate-callback shape, kept consistent with the cookie
// watcher already in this codebase.
type CertReloader struct {
	certPath, keyPath string

	mu          sync.RWMutex
	cert        *tls.Certificate
	certModTime time.Time
	certSize    int64
	keyModTime  time.Time
	keySize     int64
}

// NewCertReloader loads the initial certificate pair and returns a
// reloader ready to serve GetCertificate.
func NewCertReloader(certPath, keyPath string) (*CertReloader, error) {
	r := &CertReloader{certPath: certPath, keyPath: keyPath}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Watch polls both files on interval and hot-swaps the certificate when
// either has changed, until stop is called.
func (r *CertReloader) Watch(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
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
				_ = r.reloadIfChanged()
			}
		}
	}()
	return func() { close(done) }
}

func (r *CertReloader) reloadIfChanged() error {
	certInfo, err := os.Stat(r.certPath)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyPath)
	if err != nil {
		return err
	}

	r.mu.RLock()
	unchanged := certInfo.ModTime().Equal(r.certModTime) && certInfo.Size() == r.certSize &&
		keyInfo.ModTime().Equal(r.keyModTime) && keyInfo.Size() == r.keySize
	r.mu.RUnlock()
	if unchanged {
		return nil
	}
	return r.reload()
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("stratum: load certificate pair: %w", err)
	}
	certInfo, err := os.Stat(r.certPath)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.certModTime, r.certSize = certInfo.ModTime(), certInfo.Size()
	r.keyModTime, r.keySize = keyInfo.ModTime(), keyInfo.Size()
	r.mu.Unlock()
	return nil
}
