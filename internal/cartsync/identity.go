package cartsync

import "context"

// IdentityProvider resolves the customer the cart belongs to.
type IdentityProvider interface {
	CustomerID(ctx context.Context) (string, bool)
}

// StaticIdentity is a fixed customer id; the empty value means signed out.
type StaticIdentity string

func (s StaticIdentity) CustomerID(context.Context) (string, bool) {
	return string(s), s != ""
}
