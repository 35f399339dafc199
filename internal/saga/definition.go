package saga

import "fmt"

// Step is one forward operation of a saga, executed by a remote service
// that consumes CommandTopic and answers on the definition's response
// topic.
type Step struct {
	Name              string
	Index             int
	CommandTopic      string
	HasCompensation   bool
	CompensationTopic string

	// TimeoutSeconds is advisory only: the orchestrator never enforces it.
	// The stalled-saga sweep reads it to log overdue steps.
	TimeoutSeconds int64
}

// Definition is the static description of a saga type: an ordered list of
// steps plus the single shared topic all step responses arrive on.
// Definitions are immutable after construction.
type Definition struct {
	SagaType      string
	Description   string
	Steps         []Step
	ResponseTopic string
}

// NewDefinition validates and constructs a Definition.
// Invariants: at least one step, step indexes match positions, a step with
// compensation names a compensation topic.
func NewDefinition(sagaType, description string, steps []Step, responseTopic string) (*Definition, error) {
	if sagaType == "" {
		return nil, fmt.Errorf("saga type must not be empty")
	}
	if responseTopic == "" {
		return nil, fmt.Errorf("saga %s: response topic must not be empty", sagaType)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("saga %s: must have at least one step", sagaType)
	}
	for i, step := range steps {
		if step.Index != i {
			return nil, fmt.Errorf("saga %s: step %q index %d does not match position %d",
				sagaType, step.Name, step.Index, i)
		}
		if step.HasCompensation && step.CompensationTopic == "" {
			return nil, fmt.Errorf("saga %s: step %q has compensation but no compensation topic",
				sagaType, step.Name)
		}
	}
	return &Definition{
		SagaType:      sagaType,
		Description:   description,
		Steps:         steps,
		ResponseTopic: responseTopic,
	}, nil
}

// Step returns the step at index, or false when out of range.
func (d *Definition) Step(index int) (Step, bool) {
	if index < 0 || index >= len(d.Steps) {
		return Step{}, false
	}
	return d.Steps[index], true
}

// TotalSteps returns the number of forward steps.
func (d *Definition) TotalSteps() int {
	return len(d.Steps)
}

// CompensationSteps returns the compensable steps in [0, fromIndex] in
// reverse execution order.
func (d *Definition) CompensationSteps(fromIndex int) []Step {
	if fromIndex >= len(d.Steps) {
		fromIndex = len(d.Steps) - 1
	}
	var steps []Step
	for i := fromIndex; i >= 0; i-- {
		if d.Steps[i].HasCompensation {
			steps = append(steps, d.Steps[i])
		}
	}
	return steps
}

// Builder assembles a Definition step by step.
type Builder struct {
	sagaType      string
	description   string
	steps         []Step
	responseTopic string
}

// NewBuilder starts a builder for the given saga type.
func NewBuilder(sagaType string) *Builder {
	return &Builder{sagaType: sagaType}
}

// Description sets the human-readable catalog description.
func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// StepOption tweaks a step added through Builder.Step.
type StepOption func(*Step)

// WithCompensation marks the step compensable on the given topic.
func WithCompensation(topic string) StepOption {
	return func(s *Step) {
		s.HasCompensation = true
		s.CompensationTopic = topic
	}
}

// WithTimeout sets the advisory timeout in seconds.
func WithTimeout(seconds int64) StepOption {
	return func(s *Step) {
		s.TimeoutSeconds = seconds
	}
}

// Step appends a step; its index is its position in the build order.
func (b *Builder) Step(name, commandTopic string, opts ...StepOption) *Builder {
	step := Step{
		Name:           name,
		Index:          len(b.steps),
		CommandTopic:   commandTopic,
		TimeoutSeconds: 30,
	}
	for _, opt := range opts {
		opt(&step)
	}
	b.steps = append(b.steps, step)
	return b
}

// ResponseTopic sets the shared response topic.
func (b *Builder) ResponseTopic(topic string) *Builder {
	b.responseTopic = topic
	return b
}

// Build validates and returns the Definition.
func (b *Builder) Build() (*Definition, error) {
	return NewDefinition(b.sagaType, b.description, b.steps, b.responseTopic)
}
