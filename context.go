package hodl

import (
	"context"
)

type contextKey struct{}

var accountContextKey = contextKey{}

func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountContextKey, accountID)
}

func AccountFrom(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(accountContextKey).(string)
	return accountID, ok && accountID != ""
}
