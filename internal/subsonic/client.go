// Package subsonic is a client for the Subsonic REST API: authentication,
// media streaming with byte ranges, cover art, random songs and jukebox
// control.
package subsonic

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/network"
)

const (
	defaultAPIVersion = "1.16.1"
	defaultClientName = "ultrasonic"
)

// Config holds the server connection settings
type Config struct {
	URL        string
	Username   string
	Password   string
	ClientName string
	APIVersion string
	Timeout    time.Duration
	// RequestsPerSecond bounds REST calls; 0 uses the default of 10.
	RequestsPerSecond float64
}

// Client handles all Subsonic server interactions
type Client struct {
	baseURL      string
	username     string
	password     string
	clientName   string
	apiVersion   string
	httpClient   *http.Client
	streamClient *http.Client
	rateLimiter  *rate.Limiter
	logger       *zap.Logger

	mu            sync.RWMutex
	serverVersion string
}

// NewClient creates a new Subsonic client with pooled connections
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, apperrors.NewValidationError("server URL cannot be empty")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid server URL: %q", cfg.URL))
	}
	if cfg.Username == "" {
		return nil, apperrors.NewValidationError("username cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := network.DefaultClientConfig()
	if cfg.Timeout > 0 {
		clientConfig.Timeout = cfg.Timeout
		clientConfig.ResponseHeaderTimeout = cfg.Timeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	c := &Client{
		baseURL:      base,
		username:     cfg.Username,
		password:     cfg.Password,
		clientName:   cfg.ClientName,
		apiVersion:   cfg.APIVersion,
		httpClient:   network.NewClient(clientConfig),
		streamClient: network.NewStreamClient(clientConfig.ResponseHeaderTimeout),
		rateLimiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:       logger.Named("subsonic"),
	}
	if c.clientName == "" {
		c.clientName = defaultClientName
	}
	if c.apiVersion == "" {
		c.apiVersion = defaultAPIVersion
	}
	return c, nil
}

// ServerVersion returns the REST API version reported by the last reply, or
// "" before the first call.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

// requireVersion fails with a server-too-old error when the server's API is
// older than required. The version is learned with a ping if unknown.
func (c *Client) requireVersion(ctx context.Context, required string) error {
	version := c.ServerVersion()
	if version == "" {
		if err := c.Ping(ctx); err != nil {
			return err
		}
		version = c.ServerVersion()
	}
	if compareVersions(version, required) < 0 {
		return apperrors.NewServerTooOldError(version, required)
	}
	return nil
}

// endpoint builds the URL of a REST method with authentication parameters.
// The token is md5(password + salt) as the protocol requires.
func (c *Client) endpoint(method string, params url.Values) (string, error) {
	salt, err := newSalt()
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(c.password + salt))

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("u", c.username)
	q.Set("t", hex.EncodeToString(sum[:]))
	q.Set("s", salt)
	q.Set("v", c.apiVersion)
	q.Set("c", c.clientName)
	q.Set("f", "json")

	return fmt.Sprintf("%s/rest/%s.view?%s", c.baseURL, method, q.Encode()), nil
}

func newSalt() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// call performs a JSON REST request and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out *response) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = string(apperrors.GetErrorType(err))
		}
		monitoring.RecordAPIRequest(method, status, time.Since(start))
	}()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return apperrors.NewCancelledError("rate limiter wait cancelled", err)
	}

	apiURL, err := c.endpoint(method, params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("failed to build request: %v", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewCancelledError(method+" cancelled", ctx.Err())
		}
		return apperrors.NewNetworkError(method+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return network.StatusError(resp.StatusCode)
	}

	r, err := c.decode(resp.Body)
	if err != nil {
		return err
	}
	if out != nil {
		*out = *r
	}
	return nil
}

// decode reads an envelope, records the server version and turns a
// "failed" status into a classified error.
func (c *Client) decode(body io.Reader) (*response, error) {
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, apperrors.NewNetworkError("failed to decode response", err)
	}
	r := &env.Response

	if r.Version != "" {
		c.mu.Lock()
		c.serverVersion = r.Version
		c.mu.Unlock()
	}

	if r.Status != "ok" {
		if r.Error == nil {
			return nil, apperrors.NewServerError(apperrors.CodeGeneric, "request failed without error details")
		}
		c.logger.Debug("server returned error",
			zap.Int("code", r.Error.Code),
			zap.String("message", r.Error.Message))
		return nil, apperrors.NewServerError(r.Error.Code, r.Error.Message)
	}
	return r, nil
}
