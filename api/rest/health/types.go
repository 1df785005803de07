package health

import "context"

// Response represents the health check response
type Response struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
	Storage string `json:"storage,omitempty"`
}

type PingResponse struct {
	Message string `json:"message"`
}

// reports whether the usage store answers
type Prober interface {
	Get(ctx context.Context, key string) (string, bool, error)
}
