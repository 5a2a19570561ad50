package partner

import (
	"context"
	"strings"
)

// Resolution answers "does a partner account exist for this email".
type Resolution struct {
	Exists   bool
	Userinfo *Userinfo
}

// Resolver probes account existence via the login-by-email endpoint.
type Resolver struct {
	Client *Client
}

func NewResolver(c *Client) *Resolver {
	return &Resolver{Client: c}
}

// Resolve never returns an error: a timeout, connection failure, or
// rejection all degrade to "does not exist". The partner self-registers
// unknown emails on first real login, so a failed probe is an
// acceptable degrade-to-pending, never a hard stop for the caller.
func (r *Resolver) Resolve(ctx context.Context, email string) Resolution {
	if strings.TrimSpace(email) == "" {
		return Resolution{}
	}

	ui, err := r.Client.EmailLogin(ctx, email)
	if err != nil {
		return Resolution{}
	}

	return Resolution{Exists: true, Userinfo: ui}
}
