package saga

// Broker topic names for the built-in AI pipeline sagas. Every command
// and compensation topic is owned by exactly one step service; all of
// them answer on the shared response topic.
const (
	// TopicSagaResponse is the default shared response topic.
	TopicSagaResponse = "saga-response"

	// AI process saga topics.
	TopicInferenceCommand      = "ai-inference-command"
	TopicInferenceCompensation = "ai-inference-compensation"

	// AI batch inference saga topics.
	TopicBatchLoaderCommand         = "ai-batch-loader-command"
	TopicBatchLoaderCompensation    = "ai-batch-loader-compensation"
	TopicBatchInferenceCommand      = "ai-batch-inference-command"
	TopicBatchInferenceCompensation = "ai-batch-inference-compensation"
	TopicAggregationCommand         = "ai-aggregation-command"
	TopicAggregationCompensation    = "ai-aggregation-compensation"
	TopicExportCommand              = "ai-export-command"
)

// Built-in saga type names.
const (
	TypeAIProcess        = "AI_PROCESS"
	TypeAIBatchInference = "AI_BATCH_INFERENCE"
)

// AIProcessDefinition builds the single-step AI inference saga.
func AIProcessDefinition(responseTopic string) (*Definition, error) {
	return NewBuilder(TypeAIProcess).
		Description("AI process saga - run the inference model on one input").
		Step("RUN_AI_MODEL", TopicInferenceCommand,
			WithCompensation(TopicInferenceCompensation)).
		ResponseTopic(responseTopic).
		Build()
}

// AIBatchInferenceDefinition builds the batch pipeline saga: load, infer,
// aggregate, export. Export has no compensation; an exported artifact is
// cleaned up out of band.
func AIBatchInferenceDefinition(responseTopic string) (*Definition, error) {
	return NewBuilder(TypeAIBatchInference).
		Description("AI batch inference saga - load data, run batch inference, aggregate, export").
		Step("LOAD_BATCH_DATA", TopicBatchLoaderCommand,
			WithCompensation(TopicBatchLoaderCompensation)).
		Step("BATCH_INFERENCE", TopicBatchInferenceCommand,
			WithCompensation(TopicBatchInferenceCompensation),
			WithTimeout(120)).
		Step("AGGREGATE_RESULTS", TopicAggregationCommand,
			WithCompensation(TopicAggregationCompensation)).
		Step("EXPORT_RESULTS", TopicExportCommand).
		ResponseTopic(responseTopic).
		Build()
}

// BuiltinDefinitions returns all catalog definitions bound to the given
// response topic.
func BuiltinDefinitions(responseTopic string) ([]*Definition, error) {
	process, err := AIProcessDefinition(responseTopic)
	if err != nil {
		return nil, err
	}
	batch, err := AIBatchInferenceDefinition(responseTopic)
	if err != nil {
		return nil, err
	}
	return []*Definition{process, batch}, nil
}

// CommandTopics returns every command and compensation topic of the
// definitions, deduplicated, for step workers that subscribe to all of
// them.
func CommandTopics(defs []*Definition) []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, def := range defs {
		for _, step := range def.Steps {
			if _, ok := seen[step.CommandTopic]; !ok {
				seen[step.CommandTopic] = struct{}{}
				topics = append(topics, step.CommandTopic)
			}
			if step.HasCompensation {
				if _, ok := seen[step.CompensationTopic]; !ok {
					seen[step.CompensationTopic] = struct{}{}
					topics = append(topics, step.CompensationTopic)
				}
			}
		}
	}
	return topics
}
