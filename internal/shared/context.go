package shared

import "context"

// AnonymousAccount is the account id used for unauthenticated lookups. It
// receives only the "none" default tier during resolution.
const AnonymousAccount int64 = 0

type callerContextKey struct{}

// ContextWithCaller stores the authenticated caller account in context.
func ContextWithCaller(ctx context.Context, accountID int64) context.Context {
	return context.WithValue(ctx, callerContextKey{}, accountID)
}

// CallerFromContext extracts the caller account from context. The second
// return is false for unauthenticated requests.
func CallerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(callerContextKey{}).(int64)
	if !ok || id == AnonymousAccount {
		return AnonymousAccount, false
	}
	return id, true
}
