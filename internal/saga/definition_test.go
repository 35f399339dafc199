package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewBuilder("ORDER_TEST").
		Description("test saga").
		Step("RESERVE", "reserve-command", WithCompensation("reserve-compensation")).
		Step("CHARGE", "charge-command", WithCompensation("charge-compensation"), WithTimeout(60)).
		Step("NOTIFY", "notify-command").
		ResponseTopic("saga-response").
		Build()
	require.NoError(t, err)
	return def
}

func TestBuilder_AssignsIndexes(t *testing.T) {
	def := testDefinition(t)

	require.Equal(t, 3, def.TotalSteps())
	for i, step := range def.Steps {
		assert.Equal(t, i, step.Index)
	}
	assert.Equal(t, int64(60), def.Steps[1].TimeoutSeconds)
	assert.False(t, def.Steps[2].HasCompensation)
}

func TestNewDefinition_Invariants(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Definition, error)
	}{
		{
			name: "no steps",
			build: func() (*Definition, error) {
				return NewBuilder("EMPTY").ResponseTopic("t").Build()
			},
		},
		{
			name: "no response topic",
			build: func() (*Definition, error) {
				return NewBuilder("NO_TOPIC").Step("S", "cmd").Build()
			},
		},
		{
			name: "index mismatch",
			build: func() (*Definition, error) {
				return NewDefinition("BAD_INDEX", "", []Step{
					{Name: "S0", Index: 1, CommandTopic: "cmd"},
				}, "t")
			},
		},
		{
			name: "compensation without topic",
			build: func() (*Definition, error) {
				return NewDefinition("BAD_COMP", "", []Step{
					{Name: "S0", Index: 0, CommandTopic: "cmd", HasCompensation: true},
				}, "t")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.Error(t, err)
		})
	}
}

func TestDefinition_Step(t *testing.T) {
	def := testDefinition(t)

	step, ok := def.Step(1)
	require.True(t, ok)
	assert.Equal(t, "CHARGE", step.Name)

	_, ok = def.Step(3)
	assert.False(t, ok)
	_, ok = def.Step(-1)
	assert.False(t, ok)
}

func TestDefinition_CompensationSteps(t *testing.T) {
	def := testDefinition(t)

	// Failure at step 2: compensable prefix is CHARGE then RESERVE.
	steps := def.CompensationSteps(1)
	require.Len(t, steps, 2)
	assert.Equal(t, "CHARGE", steps[0].Name)
	assert.Equal(t, "RESERVE", steps[1].Name)

	assert.Empty(t, def.CompensationSteps(-1))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	def := testDefinition(t)
	reg.Register(def)

	got, err := reg.Get("ORDER_TEST")
	require.NoError(t, err)
	assert.Same(t, def, got)

	_, err = reg.Get("NOPE")
	assert.Error(t, err)

	types := reg.Types()
	require.Len(t, types, 1)
	assert.Equal(t, "ORDER_TEST", types[0].SagaType)
}

func TestBuiltinDefinitions(t *testing.T) {
	defs, err := BuiltinDefinitions(TopicSagaResponse)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	byType := map[string]*Definition{}
	for _, def := range defs {
		byType[def.SagaType] = def
	}

	process := byType[TypeAIProcess]
	require.NotNil(t, process)
	assert.Equal(t, 1, process.TotalSteps())
	assert.Equal(t, TopicInferenceCommand, process.Steps[0].CommandTopic)

	batch := byType[TypeAIBatchInference]
	require.NotNil(t, batch)
	assert.Equal(t, 4, batch.TotalSteps())
	// Export step cannot be compensated.
	assert.False(t, batch.Steps[3].HasCompensation)

	topics := CommandTopics(defs)
	assert.Contains(t, topics, TopicInferenceCommand)
	assert.Contains(t, topics, TopicBatchLoaderCompensation)
	assert.Contains(t, topics, TopicExportCommand)
}
