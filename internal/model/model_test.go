package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobDeadLettered.Terminal())
	for _, s := range []JobStatus{JobQueued, JobProcessing, JobPersisted, JobArchived} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestJobStatusReached(t *testing.T) {
	assert.True(t, JobArchived.Reached(JobPersisted))
	assert.True(t, JobPersisted.Reached(JobPersisted))
	assert.False(t, JobProcessing.Reached(JobPersisted))
	assert.False(t, JobDeadLettered.Reached(JobPersisted))
	assert.True(t, JobDeadLettered.Reached(JobDeadLettered))
}

func TestIsPermanent(t *testing.T) {
	cfgErr := &ConfigurationError{Version: "9.9", Err: ErrUnsupportedVersion}
	assert.True(t, IsPermanent(cfgErr))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", &ParseError{Reason: "blank Version"})))
	assert.False(t, IsPermanent(Infra("persist message", errors.New("timeout"))))
	assert.False(t, IsPermanent(nil))
	assert.NoError(t, Infra("persist message", nil))
}

func TestRuleFlags(t *testing.T) {
	assert.True(t, FormatRule{Predicate: " TRUE "}.Enabled())
	assert.False(t, FormatRule{Predicate: "False"}.Enabled())
	assert.False(t, FormatRule{}.Enabled())
	assert.True(t, RequirementRule{Predicate: "true", Required: "True"}.IsRequired())
	assert.False(t, RequirementRule{Required: "yes"}.IsRequired())
}
