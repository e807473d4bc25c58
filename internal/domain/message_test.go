package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusDone, false},
		{StatusPending, StatusPending, false},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusPending, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusDone, StatusPending, false},
		{StatusDone, StatusInProgress, false},
		{Status("BOGUS"), StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusInProgress.Valid())
	assert.True(t, StatusDone.Valid())
	assert.False(t, Status("").Valid())
	assert.False(t, Status("FAILED").Valid())
}

func TestMessage_Validate(t *testing.T) {
	now := time.Now()

	valid := NewMessage("m-1", "order", "cancel order 1", "", now.Add(time.Minute), now)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(m *Message)
	}{
		{"missing message id", func(m *Message) { m.MessageID = "" }},
		{"missing topic", func(m *Message) { m.Topic = "" }},
		{"bad status", func(m *Message) { m.Status = "FAILED" }},
		{"due before created", func(m *Message) { m.DueAt = m.CreatedAt.Add(-time.Second) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid.Clone()
			tt.mutate(m)
			err := m.Validate()
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}

	var nilMsg *Message
	assert.ErrorIs(t, nilMsg.Validate(), ErrValidationFailed)
}

func TestMessage_DelayAndIsDue(t *testing.T) {
	now := time.Now()
	m := NewMessage("m-1", "order", "x", "", now.Add(5*time.Second), now)

	assert.Equal(t, 5*time.Second, m.Delay(now))
	assert.False(t, m.IsDue(now))
	assert.True(t, m.IsDue(now.Add(5*time.Second)))
	assert.Equal(t, time.Duration(0), m.Delay(now.Add(time.Minute)))
}

func TestMessage_CloneIsDeep(t *testing.T) {
	now := time.Now()
	m := NewMessage("m-1", "order", "x", "", now, now)
	m.ProcessedAt = &now

	c := m.Clone()
	later := now.Add(time.Hour)
	*c.ProcessedAt = later
	c.Status = StatusDone

	assert.Equal(t, now, *m.ProcessedAt)
	assert.Equal(t, StatusPending, m.Status)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "DUPLICATE", ErrorCode(fmt.Errorf("wrap: %w", ErrDuplicate)))
	assert.Equal(t, "ALREADY_EXPIRED", ErrorCode(ErrAlreadyExpired))
	assert.Equal(t, "SCHEDULING_FAILED", ErrorCode(ErrSchedulingFailed))
	assert.Equal(t, "VALIDATION_FAILED", ErrorCode(ErrValidationFailed))
	assert.Equal(t, "INTERNAL", ErrorCode(errors.New("boom")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestTopicConfig_WithDefaults(t *testing.T) {
	cfg := TopicConfig{Name: "order"}.WithDefaults()

	assert.Equal(t, "order_delayed_queue", cfg.QueueName)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval)
	assert.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	assert.Equal(t, DefaultLockWaitTimeout, cfg.LockWaitTimeout)
	assert.Equal(t, "order", cfg.Handler)

	fast := TopicConfig{Name: "x", CheckInterval: time.Millisecond}.WithDefaults()
	assert.Equal(t, MinCheckInterval, fast.CheckInterval)
}

func TestTopicConfig_Validate(t *testing.T) {
	assert.NoError(t, TopicConfig{Name: "order"}.WithDefaults().Validate())

	err := TopicConfig{}.Validate()
	assert.ErrorIs(t, err, ErrValidationFailed)

	err = TopicConfig{Name: "x", LockWaitTimeout: -time.Second}.Validate()
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics()
	require.Len(t, topics, 4)

	byName := map[string]TopicConfig{}
	for _, tc := range topics {
		byName[tc.Name] = tc
	}
	assert.False(t, byName["email"].AllowDuplicates)
	assert.False(t, byName["task"].ProcessBacklogOnStartup)
	assert.True(t, byName["order"].ProcessBacklogOnStartup)
}
