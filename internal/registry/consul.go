// Package registry keeps the resource ids of OAuth clients in line with
// the services announced in a Consul catalog.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks . ServiceRegistry

// ServiceRegistry lists the registered services with their tags.
type ServiceRegistry interface {
	ListServices(ctx context.Context) (map[string][]string, error)
}

// Consul reads the service catalog over the Consul HTTP API.
type Consul struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ ServiceRegistry = (*Consul)(nil)

func NewConsul(baseURL, token string, client *http.Client) *Consul {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Consul{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: client}
}

// ListServices calls GET /v1/catalog/services, which answers with an
// object of service name to tag list.
func (c *Consul) ListServices(ctx context.Context) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/catalog/services", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Consul-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consul catalog: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("consul catalog: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consul catalog: unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("consul catalog: invalid json")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("consul catalog: expected object, got %s", parsed.Type)
	}
	services := make(map[string][]string)
	parsed.ForEach(func(name, tags gjson.Result) bool {
		list := []string{}
		for _, t := range tags.Array() {
			list = append(list, t.String())
		}
		services[name.String()] = list
		return true
	})
	return services, nil
}
