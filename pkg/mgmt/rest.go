package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// RESTConfig configures the REST management API client.
type RESTConfig struct {
	// BaseURL is the API root, e.g. "https://engine.lago.local/api".
	BaseURL string

	// Username and Password are sent as HTTP basic auth.
	Username string
	Password string

	// Timeout bounds each individual request.
	Timeout time.Duration
}

// RESTClient implements Client against an engine REST API.
type RESTClient struct {
	config RESTConfig
	http   *http.Client
	log    zerolog.Logger
}

// NewRESTClient creates a REST management API client.
func NewRESTClient(cfg RESTConfig, log zerolog.Logger) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RESTClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "mgmt").Logger(),
	}, nil
}

func (c *RESTClient) ListDataCenters(ctx context.Context) ([]DataCenter, error) {
	var dcs []DataCenter
	if err := c.get(ctx, "datacenter.list", "/datacenters", &dcs); err != nil {
		return nil, err
	}
	return dcs, nil
}

func (c *RESTClient) ListStorageDomains(ctx context.Context, dataCenterID string) ([]StorageDomain, error) {
	var sds []StorageDomain
	path := fmt.Sprintf("/datacenters/%s/storagedomains", url.PathEscape(dataCenterID))
	if err := c.get(ctx, "storagedomain.list", path, &sds); err != nil {
		return nil, err
	}
	return sds, nil
}

func (c *RESTClient) GetStorageDomain(ctx context.Context, dataCenterID, name string) (*StorageDomain, error) {
	var sd StorageDomain
	path := fmt.Sprintf("/datacenters/%s/storagedomains/%s",
		url.PathEscape(dataCenterID), url.PathEscape(name))
	if err := c.get(ctx, "storagedomain.get", path, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func (c *RESTClient) ActivateStorageDomain(ctx context.Context, dataCenterID, id string) error {
	path := fmt.Sprintf("/datacenters/%s/storagedomains/%s/activate",
		url.PathEscape(dataCenterID), url.PathEscape(id))
	return c.post(ctx, "storagedomain.activate", path)
}

func (c *RESTClient) DeactivateStorageDomain(ctx context.Context, dataCenterID, id string) error {
	path := fmt.Sprintf("/datacenters/%s/storagedomains/%s/deactivate",
		url.PathEscape(dataCenterID), url.PathEscape(id))
	return c.post(ctx, "storagedomain.deactivate", path)
}

func (c *RESTClient) ListHosts(ctx context.Context) ([]Host, error) {
	var hosts []Host
	if err := c.get(ctx, "host.list", "/hosts", &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (c *RESTClient) GetHost(ctx context.Context, name string) (*Host, error) {
	var host Host
	if err := c.get(ctx, "host.get", "/hosts/"+url.PathEscape(name), &host); err != nil {
		return nil, err
	}
	return &host, nil
}

func (c *RESTClient) ActivateHost(ctx context.Context, id string) error {
	return c.post(ctx, "host.activate", "/hosts/"+url.PathEscape(id)+"/activate")
}

func (c *RESTClient) DeactivateHost(ctx context.Context, id string) error {
	return c.post(ctx, "host.deactivate", "/hosts/"+url.PathEscape(id)+"/deactivate")
}

func (c *RESTClient) get(ctx context.Context, op, path string, out interface{}) error {
	body, err := c.do(ctx, op, http.MethodGet, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, op, path string) error {
	_, err := c.do(ctx, op, http.MethodPost, path)
	return err
}

func (c *RESTClient) do(ctx context.Context, op, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	c.log.Debug().Str("op", op).Str("method", method).Str("path", path).Msg("management API call")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures are retried by convergence polling anyway.
		return nil, &RequestError{Op: op, Err: err, Transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Status: resp.StatusCode, Err: err, Transient: true}
	}

	if resp.StatusCode >= 400 {
		return nil, &RequestError{
			Op:        op,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("%s", string(body)),
			Transient: isTransientStatus(resp.StatusCode),
		}
	}
	return body, nil
}

// isTransientStatus classifies rejections the engine issues while an entity
// is busy or mid-transition.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusConflict, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true
	}
	return false
}
