package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger returns a zap logger that writes through t.Log, so output
// only surfaces for failing tests.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}
