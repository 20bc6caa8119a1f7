// Package context carries request-scoped correlation values.
package context

import "context"

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	actorTypeKey  contextKey = "actor_type"
	actorIDKey    contextKey = "actor_id"
	propertyIDKey contextKey = "property_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, actorType)
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	actorType, _ := ctx.Value(actorTypeKey).(string)
	actorID, _ := ctx.Value(actorIDKey).(string)
	return actorType, actorID
}

func WithPropertyID(ctx context.Context, propertyID string) context.Context {
	return context.WithValue(ctx, propertyIDKey, propertyID)
}

func PropertyIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(propertyIDKey).(string); ok {
		return v
	}
	return ""
}
