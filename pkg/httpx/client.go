package httpx

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	prescalertls "github.com/HatiCode/prescaler/pkg/tls"
)

// NewClient creates an outbound client. With tlsCfg.Enabled the client
// presents its certificate and verifies the server (mTLS).
func NewClient(tlsCfg prescalertls.Config, timeout time.Duration) (*http.Client, error) {
	var clientTLS *tls.Config
	if tlsCfg.Enabled {
		cfg, err := tlsCfg.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
		clientTLS = cfg
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			TLSClientConfig:     clientTLS,
		},
	}, nil
}
