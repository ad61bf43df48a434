package media

import "fmt"

// TaskConfig describes a forwarding task between a pull and a push stream.
type TaskConfig struct {
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	Pull      string `yaml:"pull" json:"pull"`
	Push      string `yaml:"push" json:"push"`
	ZeroCopy  bool   `yaml:"zero_copy" json:"zero_copy"`
	AutoStart bool   `yaml:"auto_start" json:"auto_start"`
}

// DefaultTaskName is used when a task is created without a name.
func DefaultTaskName(pull, push string) string {
	return fmt.Sprintf("forward-%s-to-%s", pull, push)
}

// Key identifies a task across config reloads: one task per stream pair.
func (t *TaskConfig) Key() string {
	return t.Pull + "->" + t.Push
}

// DisplayName is Name, or the default name derived from the endpoints.
func (t *TaskConfig) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return DefaultTaskName(t.Pull, t.Push)
}

func (t *TaskConfig) Validate() error {
	switch {
	case t.Pull == "":
		return fmt.Errorf("%w: task pull stream is required", ErrInvalidConfig)
	case t.Push == "":
		return fmt.Errorf("%w: task push stream is required", ErrInvalidConfig)
	case len(t.Name) > 100:
		return fmt.Errorf("%w: task name must be at most 100 characters", ErrInvalidConfig)
	}
	return nil
}
