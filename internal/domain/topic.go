package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Topic defaults, taken from the production deployment of the delayed queue
const (
	DefaultCheckInterval   = 100 * time.Millisecond
	DefaultPollTimeout     = 10 * time.Millisecond
	DefaultLockWaitTimeout = 5 * time.Second
	MinCheckInterval       = 10 * time.Millisecond
)

// TopicConfig is the per-topic policy injected into a topic engine
type TopicConfig struct {
	// Name is the topic producers enqueue to
	Name string `json:"name" yaml:"name" toml:"name" validate:"required,max=64"`

	// QueueName names the Redis keys and the lease namespace.
	// Defaults to "<name>_delayed_queue".
	QueueName string `json:"queue_name" yaml:"queue_name" toml:"queue_name" validate:"omitempty,max=128"`

	// AllowDuplicates disables the dedup-key check when true
	AllowDuplicates bool `json:"allow_duplicates" yaml:"allow_duplicates" toml:"allow_duplicates"`

	// ProcessBacklogOnStartup replays overdue PENDING messages at start
	ProcessBacklogOnStartup bool `json:"process_backlog_on_startup" yaml:"process_backlog_on_startup" toml:"process_backlog_on_startup"`

	// RecoverInProgress also re-arms IN_PROGRESS records with a free lease during recovery and reconciliation
	RecoverInProgress bool `json:"recover_in_progress" yaml:"recover_in_progress" toml:"recover_in_progress"`

	// CheckInterval is the dispatcher tick
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" toml:"check_interval" validate:"gte=0"`

	// PollTimeout bounds each ready-queue pop
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout" toml:"poll_timeout" validate:"gte=0"`

	// LockWaitTimeout bounds the wait to acquire a message lease
	LockWaitTimeout time.Duration `json:"lock_wait_timeout" yaml:"lock_wait_timeout" toml:"lock_wait_timeout" validate:"gte=0"`

	// Handler is the registered handler name; defaults to Name
	Handler string `json:"handler" yaml:"handler" toml:"handler"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// WithDefaults fills zero values with the topic defaults
func (c TopicConfig) WithDefaults() TopicConfig {
	if c.QueueName == "" && c.Name != "" {
		c.QueueName = c.Name + "_delayed_queue"
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckInterval < MinCheckInterval {
		c.CheckInterval = MinCheckInterval
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.LockWaitTimeout == 0 {
		c.LockWaitTimeout = DefaultLockWaitTimeout
	}
	if c.Handler == "" {
		c.Handler = c.Name
	}
	return c
}

// Validate runs struct validation on the topic config
func (c TopicConfig) Validate() error {
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: topic %q: %v", ErrValidationFailed, c.Name, err)
	}
	return nil
}

// DefaultTopics returns the built-in topic table
func DefaultTopics() []TopicConfig {
	return []TopicConfig{
		{Name: "order", AllowDuplicates: true, ProcessBacklogOnStartup: true, RecoverInProgress: true},
		{Name: "notification", AllowDuplicates: true, ProcessBacklogOnStartup: true, RecoverInProgress: true},
		{Name: "task", AllowDuplicates: true, ProcessBacklogOnStartup: false, RecoverInProgress: true},
		{Name: "email", AllowDuplicates: false, ProcessBacklogOnStartup: true, RecoverInProgress: true},
	}
}
