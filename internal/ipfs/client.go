// Package ipfs provides a gateway fetch client with retry/fallback and a
// pinning-service client for publishing archives.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/verdikta/arbiter-adapter/internal/werrors"
	"golang.org/x/sync/singleflight"
)

// maxFetchBytes bounds how much of an archive response we will read into
// memory; oversized archives are rejected rather than exhausting memory.
const maxFetchBytes = 64 * 1024 * 1024

// Client fetches content-addressed archives from a list of gateways (tried
// in order, with retry per gateway) and pins archives to a single
// configured pinning service.
type Client struct {
	gateways      []string // fallback order
	pinServiceURL string
	pinKey        string
	fetchClient   *http.Client
	pinClient     *http.Client
	logger        *slog.Logger
	group         singleflight.Group
}

// NewClient constructs an IPFS client. gateways is the fallback order used
// by Fetch; pinServiceURL/pinKey configure Pin (pinKey may be empty if the
// pinning service requires no auth). fetchTimeout bounds each gateway
// attempt; pinTimeout bounds each pin attempt — uploads carry more bytes
// than gateway reads, so the two are configured independently.
func NewClient(gateways []string, pinServiceURL, pinKey string, fetchTimeout, pinTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gateways:      gateways,
		pinServiceURL: pinServiceURL,
		pinKey:        pinKey,
		fetchClient:   &http.Client{Timeout: fetchTimeout},
		pinClient:     &http.Client{Timeout: pinTimeout},
		logger:        logger,
	}
}

// Fetch retrieves the raw bytes addressed by cid, trying each configured
// gateway in order. Within a single gateway, up to 3 attempts are made with
// jittered exponential backoff. Concurrent Fetch calls for the same CID
// within this process are deduplicated via singleflight so the gateway is
// not hit twice for identical bytes.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	v, err, _ := c.group.Do(cid, func() (any, error) {
		return c.fetchUncached(ctx, cid)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) fetchUncached(ctx context.Context, cid string) ([]byte, error) {
	var lastErr error
	for _, gw := range c.gateways {
		url := fmt.Sprintf("%s/ipfs/%s", gw, cid)
		var body []byte
		err := werrors.Do(ctx, c.logger, "ipfs_fetch", 2, 200*time.Millisecond, func(error) bool { return true }, func() error {
			b, ferr := c.doFetch(ctx, url)
			if ferr != nil {
				return ferr
			}
			body = b
			return nil
		})
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.logger.Warn("gateway fetch failed, trying next", "cid", cid, "gateway", gw, "error", err)
	}
	if lastErr == nil {
		return nil, werrors.New(werrors.KindCIDNotFound, fmt.Sprintf("no gateways configured for cid %s", cid), nil)
	}
	return nil, werrors.New(werrors.KindCIDNotFound, fmt.Sprintf("cid %s not found on any gateway", cid), lastErr)
}

func (c *Client) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, werrors.New(werrors.KindInternal, "build fetch request", err)
	}

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, werrors.New(werrors.KindCIDNotFound, "gateway request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGatewayTimeout {
		return nil, werrors.New(werrors.KindCIDNotFound, fmt.Sprintf("gateway status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, werrors.New(werrors.KindCIDNotFound, fmt.Sprintf("gateway status %d: %s", resp.StatusCode, string(body)), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, werrors.New(werrors.KindArchiveCorrupt, "read gateway response", err)
	}
	if len(data) > maxFetchBytes {
		return nil, werrors.New(werrors.KindArchiveCorrupt, "archive exceeds maximum size", nil)
	}
	return data, nil
}

// Ping checks that the first configured gateway answers, backing the
// dispatcher's /ready probe. It does not check the pinning service: most
// pinning services have no unauthenticated health endpoint, and a
// misconfigured pin key should surface as PublishFailed on the first real
// request rather than flapping readiness.
func (c *Client) Ping(ctx context.Context) error {
	if len(c.gateways) == 0 {
		return werrors.New(werrors.KindInternal, "no IPFS gateways configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.gateways[0], nil)
	if err != nil {
		return werrors.New(werrors.KindInternal, "build readiness request", err)
	}
	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return werrors.New(werrors.KindCIDNotFound, "gateway unreachable", err)
	}
	_ = resp.Body.Close()
	return nil
}

// pinResponse is the pinning service's reply: the CID of the pinned
// archive and its size in bytes.
type pinResponse struct {
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// errPinRetriable marks a pin failure (transient 5xx/429) worth one more
// attempt before the whole request fails with PublishFailed.
var errPinRetriable = errors.New("retriable pin failure")

func pinRetriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, errPinRetriable)
}

// Pin uploads data to the configured pinning service and returns the
// resulting CID. Two attempts total: one retry on transport or 5xx errors.
func (c *Client) Pin(ctx context.Context, name string, data []byte) (string, error) {
	if c.pinServiceURL == "" {
		return "", werrors.New(werrors.KindPublishFailed, "no pinning service configured", nil)
	}

	var cid string
	err := werrors.Do(ctx, c.logger, "ipfs_pin", 1, 300*time.Millisecond, pinRetriable, func() error {
		got, perr := c.doPin(ctx, name, data)
		if perr != nil {
			return perr
		}
		cid = got
		return nil
	})
	if err != nil {
		return "", werrors.New(werrors.KindPublishFailed, "pin failed", err)
	}
	return cid, nil
}

func (c *Client) doPin(ctx context.Context, name string, data []byte) (string, error) {
	// The pinning service takes the archive as a form-encoded upload
	// with bearer auth, not a JSON body.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", werrors.New(werrors.KindInternal, "build pin form", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", werrors.New(werrors.KindInternal, "write pin form", err)
	}
	if err := mw.Close(); err != nil {
		return "", werrors.New(werrors.KindInternal, "close pin form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinServiceURL, &body)
	if err != nil {
		return "", werrors.New(werrors.KindInternal, "build pin request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.pinKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.pinKey)
	}

	resp, err := c.pinClient.Do(req)
	if err != nil {
		return "", werrors.New(werrors.KindPublishFailed, "pin request transport error", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		cause := error(nil)
		if werrors.StatusRetriable(resp.StatusCode) {
			cause = errPinRetriable
		}
		return "", werrors.New(werrors.KindPublishFailed, fmt.Sprintf("pin service status %d: %s", resp.StatusCode, string(body)), cause)
	}

	var result pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", werrors.New(werrors.KindPublishFailed, "decode pin response", err)
	}
	if result.CID == "" {
		return "", werrors.New(werrors.KindPublishFailed, "pin response missing cid", nil)
	}
	c.logger.Debug("pinned archive", "cid", result.CID, "size", result.Size)
	return result.CID, nil
}
