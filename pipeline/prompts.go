package pipeline

import "github.com/sweetpotato0/factflow/prompt"

// Prompt template names. Each can be replaced with WithPrompt.
const (
	PromptPlannerSystem    = "planner.system"
	PromptPlannerUser      = "planner.user"
	PromptRefinerSystem    = "refiner.system"
	PromptRefinerUser      = "refiner.user"
	PromptAggregatorSystem = "aggregator.system"
	PromptAggregatorUser   = "aggregator.user"
	PromptEvaluatorSystem  = "evaluator.system"
	PromptEvaluatorUser    = "evaluator.user"
	PromptEditorSystem     = "editor.system"
	PromptEditorUser       = "editor.user"
)

const plannerSystem = `You are a query planner. Decompose the user's question into at most {{.MaxComponents}} sub-queries, each answered by exactly one data source.
Available data sources:
{{range .Sources}}- {{.}}
{{end}}Choose an aggregation strategy from: combine_and_summarize, sequential, parallel, single_source.
Use single_source when there is exactly one sub-query. A sub-query may use the answer of an earlier one by writing {{"{{"}}id.answer{{"}}"}}; list that dependency as an edge.
Return JSON only with the keys user_query, query_intent, data_sources, query_components (id, sub_query, source) and execution_order (nodes, edges, aggregation).`

const plannerUser = `User question:
{{.Query}}
{{if .Feedback}}
A reviewer rejected the previous plan.
Previous plan:
{{.PreviousPlan}}

Feedback:
{{.Feedback}}

Produce a corrected plan.
{{end}}Return JSON only.`

const refinerSystem = `You review query plans. Check that each sub-query is answerable by its data source, that the sources are the best fit for the question and that the aggregation strategy matches the dependencies.
Return JSON only with the keys refinement_required ("yes" or "no"), feedback_summary and feedback_reasoning (a list of short strings).`

const refinerUser = `User question:
{{.Query}}

Plan:
{{.Plan}}

Return JSON only.`

const aggregatorSystem = `You combine answers gathered from several knowledge sources into one answer to the user's question.
Each source is labelled with a letter and its documents are numbered. Cite supporting documents inline as [Letter][Index], for example [A][1].
Preserve every citation marker already present in the source answers exactly as written. Do not invent sources or citations.`

const aggregatorUser = `User question:
{{.Query}}

Aggregation strategy: {{.Aggregation}}
{{range .Results}}{{$letter := .Letter}}
Source {{.Letter}} ({{.Source}}), sub-query: {{.SubQuery}}
Answer:
{{.Answer}}
{{if .Documents}}Documents:
{{range $i, $d := .Documents}}[{{$letter}}][{{inc $i}}] {{$d}}
{{end}}{{end}}{{end}}
Write the combined answer.`

const evaluatorSystem = `You check answers for factual accuracy against the provided context documents only.
Score from {{.Range}}, where the maximum means every claim is supported by the context.
Return JSON only with the keys score and reasoning.`

const evaluatorUser = `Question:
{{.Question}}

Answer:
{{.Answer}}

Context:
{{range $i, $c := .Contexts}}[{{inc $i}}] {{$c}}
{{end}}
Return JSON only.`

const editorSystem = `You correct answers so that every claim is supported by the context documents. Keep supported content and citation markers of the form [Letter][Index] unchanged. Remove or fix unsupported claims.
Return JSON only with the key answer.`

const editorUser = `Question:
{{.Question}}

Previous answer:
{{.Answer}}

Accuracy score: {{.Score}}
Reviewer reasoning:
{{.Reasoning}}

Context by source:
{{range .Groups}}Source {{.Letter}} ({{.Source}}):
{{range $i, $d := .Documents}}[{{inc $i}}] {{$d}}
{{end}}
{{end}}Return JSON only.`

var defaultPrompts = map[string]string{
	PromptPlannerSystem:    plannerSystem,
	PromptPlannerUser:      plannerUser,
	PromptRefinerSystem:    refinerSystem,
	PromptRefinerUser:      refinerUser,
	PromptAggregatorSystem: aggregatorSystem,
	PromptAggregatorUser:   aggregatorUser,
	PromptEvaluatorSystem:  evaluatorSystem,
	PromptEvaluatorUser:    evaluatorUser,
	PromptEditorSystem:     editorSystem,
	PromptEditorUser:       editorUser,
}

// newPrompts registers the default templates and applies overrides.
func newPrompts(overrides map[string]string) (*prompt.Set, error) {
	set := prompt.NewSet()
	for name, content := range defaultPrompts {
		if err := set.Define(name, content); err != nil {
			return nil, err
		}
	}
	for name, content := range overrides {
		if err := set.Override(name, content); err != nil {
			return nil, err
		}
	}
	return set, nil
}
