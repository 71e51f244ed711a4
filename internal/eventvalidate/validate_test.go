package eventvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/northstack/katalyst/internal/txn"
)

func alwaysHas(string) bool { return true }
func neverHas(string) bool  { return false }
func only(want string) HandlerPredicate {
	return func(eventType string) bool { return eventType == want }
}

func TestValidate_PassesWhenHandlerExists(t *testing.T) {
	evt := txn.PendingEvent{EventType: "user.registered"}
	result := Validate(evt, only("user.registered"))
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Error)
}

func TestValidate_FailsWhenNoHandlerRegistered(t *testing.T) {
	evt := txn.PendingEvent{EventType: "user.registered"}
	result := Validate(evt, neverHas)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "user.registered")
}

func TestValidateAll_AggregatesPerEventResults(t *testing.T) {
	events := []txn.PendingEvent{
		{EventType: "user.registered"},
		{EventType: "user.deleted"},
	}
	results := ValidateAll(events, only("user.registered"))

	a := assert.New(t)
	a.Len(results, 2)
	a.True(results[0].IsValid)
	a.False(results[1].IsValid)
}

func TestValidateAll_EmptyInputReturnsEmptyOutput(t *testing.T) {
	assert.Empty(t, ValidateAll(nil, alwaysHas))
}
