package refresh

import (
	"context"
	"time"
)

// Grant is a successful answer from a refresh endpoint.
type Grant struct {
	AccessToken  string
	RefreshToken string        // empty when the backend did not rotate it
	ExpiresIn    time.Duration // zero when the backend did not say
}

// Transport performs one refresh call against one endpoint. Implementations mark
// rejections of the refresh token with errors.ErrTerminalAuth; every other failure
// is treated as transient.
type Transport interface {
	Refresh(ctx context.Context, endpoint, refreshToken string) (Grant, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint, refreshToken string) (Grant, error)

func (f TransportFunc) Refresh(ctx context.Context, endpoint, refreshToken string) (Grant, error) {
	return f(ctx, endpoint, refreshToken)
}
