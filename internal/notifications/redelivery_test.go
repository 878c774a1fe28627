package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRedeliveryWorkerValidatesSchedule(t *testing.T) {
	_, err := NewRedeliveryWorker(&Service{}, "not-a-schedule", zap.NewNop())
	assert.Error(t, err)

	w, err := NewRedeliveryWorker(&Service{}, "@every 1m", zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, w)
}
