package ctxkeys

import (
	"context"

	"github.com/lensworks/aperture/internal/model"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	RequesterKey contextKey = "requester"
	ClientIPKey  contextKey = "client_ip"
)

// Requester returns the request identity, model.Anonymous when none was set.
func Requester(ctx context.Context) model.Requester {
	req, ok := ctx.Value(RequesterKey).(model.Requester)
	if !ok {
		return model.Anonymous
	}
	return req
}

func WithRequester(ctx context.Context, req model.Requester) context.Context {
	return context.WithValue(ctx, RequesterKey, req)
}

func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}
