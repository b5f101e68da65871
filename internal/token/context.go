package token

import "context"

type expectedTenantKey struct{}

// WithTenant restricts verification under ctx to tokens of tenantID. The user-tier gate sets it
// from the project resolved by API key, so a token minted for one project is refused by another.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, expectedTenantKey{}, tenantID)
}

func expectedTenant(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(expectedTenantKey{}).(string)
	return v, ok
}
