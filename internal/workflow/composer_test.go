package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposer_ExecuteRunsAllStepsInOrder(t *testing.T) {
	var order []string
	wf := NewBuilder("onboarding", "wf-1").
		Step("create-account", func(ctx context.Context) error { order = append(order, "create-account"); return nil }).
		Checkpoint("account-created").
		Step("send-welcome-email", func(ctx context.Context) error { order = append(order, "send-welcome-email"); return nil }).
		Checkpoint("welcomed").
		Step("provision-resources", func(ctx context.Context) error { order = append(order, "provision-resources"); return nil }).
		Build()

	result := wf.Execute(context.Background())

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"create-account", "send-welcome-email", "provision-resources"}, order)
	require.Len(t, result.Steps, 3)
	for _, s := range result.Steps {
		assert.True(t, s.Succeeded)
	}
}

func TestComposer_StopsAtFirstFailureAndReportsFAILED(t *testing.T) {
	var ran []string
	boom := errors.New("provisioning unavailable")
	wf := NewBuilder("onboarding", "wf-2").
		Step("create-account", func(ctx context.Context) error { ran = append(ran, "create-account"); return nil }).
		Step("provision-resources", func(ctx context.Context) error { ran = append(ran, "provision-resources"); return boom }).
		Step("send-welcome-email", func(ctx context.Context) error { ran = append(ran, "send-welcome-email"); return nil }).
		Build()

	result := wf.Execute(context.Background())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, []string{"create-account", "provision-resources"}, ran, "steps after the failure must not run")
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[1].Succeeded)
	assert.Equal(t, boom.Error(), result.Steps[1].Error)
}

func TestComposer_ResumeFromCheckpoint(t *testing.T) {
	var ran []string
	wf := NewBuilder("onboarding", "wf-3").
		Step("create-account", func(ctx context.Context) error { ran = append(ran, "create-account"); return nil }).
		Checkpoint("account-created").
		Step("send-welcome-email", func(ctx context.Context) error { ran = append(ran, "send-welcome-email"); return nil }).
		Build()

	result, err := wf.ResumeFrom(context.Background(), "account-created")

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"send-welcome-email"}, ran, "resume must skip steps before the checkpoint")
}

func TestComposer_ResumeFromUnknownCheckpointFails(t *testing.T) {
	wf := NewBuilder("onboarding", "wf-4").
		Step("create-account", func(ctx context.Context) error { return nil }).
		Build()

	result, err := wf.ResumeFrom(context.Background(), "does-not-exist")

	require.Error(t, err)
	assert.Nil(t, result)
}
