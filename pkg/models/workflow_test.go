package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepTypeRemote(t *testing.T) {
	remote := map[StepType]bool{
		StepTypeWebhook:      true,
		StepTypeAI:           true,
		StepTypeIntegration:  true,
		StepTypeFunction:     false,
		StepTypeCondition:    false,
		StepTypeNotification: false,
	}

	for _, stepType := range StepTypes() {
		assert.Equal(t, remote[stepType], stepType.Remote(), "step type %s", stepType)
	}
}
