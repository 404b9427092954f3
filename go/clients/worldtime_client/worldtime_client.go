package worldtime_client

import (
	"time"

	"github.com/mcdev12/syncplay/go/clients"
)

type WorldTimeClient struct {
	*clients.BaseClient
	endpoint string
}

// NewWorldTimeClient creates a client for a worldtimeapi-compatible server.
// An empty baseURL points at the public worldtimeapi.org.
func NewWorldTimeClient(baseURL string) *WorldTimeClient {
	if baseURL == "" {
		baseURL = BaseURL
	}

	client := &WorldTimeClient{
		BaseClient: clients.NewBaseClient(baseURL),
		endpoint:   UTCEndpoint,
	}

	client.SetHeader(AcceptHeader, JsonContentType)

	return client
}

// WithEndpoint overrides the path queried for the current time
func (c *WorldTimeClient) WithEndpoint(endpoint string) *WorldTimeClient {
	c.endpoint = endpoint
	return c
}

// WithTimeout sets the HTTP client timeout
func (c *WorldTimeClient) WithTimeout(timeout time.Duration) *WorldTimeClient {
	c.SetTimeout(timeout)
	return c
}
