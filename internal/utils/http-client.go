package utils

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPClientConfig struct {
	Timeout   time.Duration // time allowed for response headers, not for the body
	KATimeout time.Duration
	ProxyURL  string
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ShabiHTTPClient struct {
	client *http.Client
}

func NewShabiHTTPClient(cfg HTTPClientConfig) *ShabiHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Error().Str("op", "utils/http-client").Err(err).Str("proxy", cfg.ProxyURL).Msg("Invalid proxy URL, proceeding without proxy")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			log.Debug().Str("op", "utils/http-client").Str("proxy", cfg.ProxyURL).Msg("Using proxy for connections")
		}
	}
	return &ShabiHTTPClient{
		// no client-level timeout: a long body must not be cut off mid-stream
		client: &http.Client{Transport: transport},
	}
}

func (c *ShabiHTTPClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", BrowserUserAgent)
	return c.client.Do(req)
}
