package gateway

import (
	"context"
	"net/http"
)

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest re-issues the inbound request against the downstream
// service. The body is streamed through untouched; webhook signature
// verification downstream depends on the raw bytes arriving unmodified.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, p.baseURL+path, r.Body)
	if err != nil {
		return nil, err
	}

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if signature := r.Header.Get("X-Provider-Signature"); signature != "" {
		req.Header.Set("X-Provider-Signature", signature)
	}

	return p.client.Do(req)
}
