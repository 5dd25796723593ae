package batchscheduler

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/orchestrator"
)

func TestNew_InvalidCronExpressionErrors(t *testing.T) {
	orch := orchestrator.New(orchestrator.Deps{}, zerolog.Nop())
	_, err := New(orch, "not a cron expression", zerolog.Nop())
	require.Error(t, err)
}

func TestNew_ValidCronExpression(t *testing.T) {
	orch := orchestrator.New(orchestrator.Deps{}, zerolog.Nop())
	s, err := New(orch, "0 21 * * 1-5", zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestStartStop_Idempotent(t *testing.T) {
	orch := orchestrator.New(orchestrator.Deps{}, zerolog.Nop())
	// This schedule fires only at 00:00 on January 1 or on a Sunday in
	// January, so an ordinary test run never reaches fire() while the
	// assertions below execute.
	s, err := New(orch, "0 0 1 1 0", zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	s.Start() // second call is a no-op, not a panic or double-start
	assert.True(t, s.running)

	s.Stop()
	s.Stop() // second call is a no-op
	assert.False(t, s.running)
}
