package netutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// NewTransport creates an HTTP transport tuned for long-lived daemons that
// poll a small set of cloud endpoints: bounded handshakes, a modest idle pool
// and TLS 1.2 minimum.
func NewTransport(logger *logrus.Logger) *http.Transport {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}

	logger.Debug("HTTP transport initialized")
	return transport
}

// NewHTTPClient creates an HTTP client with the shared transport and the
// supplied overall request timeout. Every remote call in the control loop is
// expected to bound its wait through this timeout.
func NewHTTPClient(timeout time.Duration, logger *logrus.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(logger),
	}
}
