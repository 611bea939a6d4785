package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/Skryldev/image-stream/config"
	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// Resource is an opened image stream together with what its transport said
// about it.
type Resource struct {
	*Stream
	Name     string
	Expected int64       // byte count, or core.Unbounded
	Format   core.Format // from Content-Type or the name; FormatUnknown if neither helps
}

// HTTPClient downloads images over HTTP/1.1 or HTTP/2.
type HTTPClient struct {
	client   *http.Client
	cfg      config.HTTPConfig
	maxBytes int64
}

// NewHTTPClient builds a client from cfg.  HTTP/2 is negotiated over TLS when
// cfg.HTTP.EnableHTTP2 is set.
func NewHTTPClient(cfg config.Config) (*HTTPClient, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
	}
	if cfg.HTTP.EnableHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "http.transport", err)
		}
	}
	return &HTTPClient{
		client:   &http.Client{Transport: tr, Timeout: cfg.HTTP.Timeout},
		cfg:      cfg.HTTP,
		maxBytes: cfg.MaxImageBytes,
	}, nil
}

// WithClient replaces the underlying http.Client, e.g. for tests.
func (c *HTTPClient) WithClient(hc *http.Client) *HTTPClient {
	c.client = hc
	return c
}

// Open issues the GET and starts pumping the body.  The caller must Close the
// returned resource.
func (c *HTTPClient) Open(ctx context.Context, url string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "http.request", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	// Identity encoding keeps Content-Length equal to the bytes we read.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Transient("http.get", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("%w: %s returned %s", apperrors.ErrSourceUnavailable, url, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.Transient("http.get", err)
		}
		return nil, apperrors.New(apperrors.CategorySource, "http.get", err)
	}

	expected := core.Unbounded
	if resp.ContentLength >= 0 {
		expected = resp.ContentLength
	}
	if c.maxBytes > 0 && expected > c.maxBytes {
		resp.Body.Close()
		return nil, apperrors.New(apperrors.CategoryInput, "http.get",
			fmt.Errorf("content length %d exceeds limit %d", expected, c.maxBytes))
	}

	body := resp.Body
	if c.maxBytes > 0 {
		body = limitedBody{LimitedReader: &utils.LimitedReader{R: resp.Body, Max: c.maxBytes}, c: resp.Body}
	}

	format := core.Format(utils.FormatFromContentType(resp.Header.Get("Content-Type")))
	if format == core.FormatUnknown {
		format = core.Format(utils.FormatFromName(req.URL.Path))
	}

	return &Resource{
		Stream:   NewStream(body, c.cfg.ReceiveWindow),
		Name:     url,
		Expected: expected,
		Format:   format,
	}, nil
}

type limitedBody struct {
	*utils.LimitedReader
	c io.Closer
}

func (b limitedBody) Close() error { return b.c.Close() }
