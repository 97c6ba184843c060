package resilience

import (
	"context"
)

// noopLogger is the shared silent core.Logger test double used across this
// package's test files where log content isn't under test.
type noopLogger struct{}

func (n *noopLogger) Info(msg string, fields map[string]interface{})  {}
func (n *noopLogger) Error(msg string, fields map[string]interface{}) {}
func (n *noopLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *noopLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *noopLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *noopLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *noopLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *noopLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
