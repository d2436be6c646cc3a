package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID     contextKey = "trace_id"
	keyTenantID    contextKey = "tenant_id"
	keyUserID      contextKey = "user_id"
	keyRoles       contextKey = "roles"
	keyProjectID   contextKey = "project_id"
	keyPriority    contextKey = "priority"
	keyPrivacyMode contextKey = "privacy_mode"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithTenantID adds tenant ID to context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts tenant ID from context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithUserID adds user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithRoles adds the caller's roles to context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

// Roles extracts the caller's roles from context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyRoles).([]string)
	return v, ok && len(v) > 0
}

// WithProjectID adds the X-Project-ID scoping value to context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, keyProjectID, projectID)
}

// ProjectID extracts the project ID from context.
func ProjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyProjectID).(string)
	return v, ok && v != ""
}

// Priority is the X-Priority request hint: critical requests may jump
// ahead of normal ones when a provider applies local concurrency limits.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
)

// WithPriority adds the request priority to context.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, keyPriority, p)
}

// RequestPriority extracts the request priority from context, defaulting
// to PriorityNormal when absent.
func RequestPriority(ctx context.Context) Priority {
	if v, ok := ctx.Value(keyPriority).(Priority); ok && v != "" {
		return v
	}
	return PriorityNormal
}

// PrivacyMode is the X-Privacy-Mode request hint.
type PrivacyMode string

const (
	// PrivacyStrict is carried on the context for RequestPrivacyMode; the
	// cache and provider paths do not read it, so a strict request is
	// cached and routed like a standard one.
	PrivacyStrict PrivacyMode = "strict"
	PrivacyStandard PrivacyMode = "standard"
)

// WithPrivacyMode adds the privacy mode to context.
func WithPrivacyMode(ctx context.Context, m PrivacyMode) context.Context {
	return context.WithValue(ctx, keyPrivacyMode, m)
}

// RequestPrivacyMode extracts the privacy mode from context, defaulting to
// PrivacyStandard when absent.
func RequestPrivacyMode(ctx context.Context) PrivacyMode {
	if v, ok := ctx.Value(keyPrivacyMode).(PrivacyMode); ok && v != "" {
		return v
	}
	return PrivacyStandard
}
