package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// topicsFile is the on-disk topic table; durations are Go duration strings
type topicsFile struct {
	Topics []topicEntry `yaml:"topics" toml:"topics"`
}

type topicEntry struct {
	Name                    string `yaml:"name" toml:"name"`
	QueueName               string `yaml:"queue_name" toml:"queue_name"`
	Handler                 string `yaml:"handler" toml:"handler"`
	AllowDuplicates         bool   `yaml:"allow_duplicates" toml:"allow_duplicates"`
	ProcessBacklogOnStartup bool   `yaml:"process_backlog_on_startup" toml:"process_backlog_on_startup"`
	RecoverInProgress       *bool  `yaml:"recover_in_progress" toml:"recover_in_progress"`
	CheckInterval           string `yaml:"check_interval" toml:"check_interval"`
	PollTimeout             string `yaml:"poll_timeout" toml:"poll_timeout"`
	LockWaitTimeout         string `yaml:"lock_wait_timeout" toml:"lock_wait_timeout"`
}

// LoadTopics reads the topic table from a .yaml/.yml or .toml file.
// An empty path yields domain.DefaultTopics.
func LoadTopics(path string) ([]domain.TopicConfig, error) {
	if path == "" {
		return domain.DefaultTopics(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	var file topicsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported topics file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse topics file %s: %w", path, err)
	}

	if len(file.Topics) == 0 {
		return nil, fmt.Errorf("topics file %s defines no topics", path)
	}

	topics := make([]domain.TopicConfig, 0, len(file.Topics))
	for _, entry := range file.Topics {
		t, err := entry.toDomain()
		if err != nil {
			return nil, err
		}
		if err := t.WithDefaults().Validate(); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func (e topicEntry) toDomain() (domain.TopicConfig, error) {
	t := domain.TopicConfig{
		Name:                    e.Name,
		QueueName:               e.QueueName,
		Handler:                 e.Handler,
		AllowDuplicates:         e.AllowDuplicates,
		ProcessBacklogOnStartup: e.ProcessBacklogOnStartup,
		RecoverInProgress:       true,
	}
	if e.RecoverInProgress != nil {
		t.RecoverInProgress = *e.RecoverInProgress
	}

	var err error
	if t.CheckInterval, err = parseDuration(e.Name, "check_interval", e.CheckInterval); err != nil {
		return t, err
	}
	if t.PollTimeout, err = parseDuration(e.Name, "poll_timeout", e.PollTimeout); err != nil {
		return t, err
	}
	if t.LockWaitTimeout, err = parseDuration(e.Name, "lock_wait_timeout", e.LockWaitTimeout); err != nil {
		return t, err
	}
	return t, nil
}

func parseDuration(topic, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: topic %q: invalid %s %q", domain.ErrValidationFailed, topic, field, value)
	}
	return d, nil
}
