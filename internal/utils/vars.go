package utils

import (
	"errors"
	"time"
)

const (
	ChunkSize          = 8 * 1024 // 8KiB read buffer per chunk
	DefaultMaxRetries  = 3
	DefaultConcurrency = 4
	DefaultDirectory   = "downloads"
	DefaultBackoffUnit = time.Second
	FallbackFileName   = "download"
)

// Sent on every request; some hosts refuse non-browser agents.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

var (
	ErrInvalidMode          = errors.New("invalid mode, use 1 for single link or 2 for multiple links")
	ErrURLCount             = errors.New("wrong number of URLs for mode")
	ErrUnsupportedScheme    = errors.New("unsupported URL scheme")
	ErrMissingHost          = errors.New("URL has no host")
	ErrDestinationCollision = errors.New("destination path collision")
	ErrRangeIgnored         = errors.New("server ignored range request")
	ErrRangeMismatch        = errors.New("partial content does not match requested range")
	ErrShortBody            = errors.New("response body shorter than declared length")
)
