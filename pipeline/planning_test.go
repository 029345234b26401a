package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/extract"
)

func runPlanning(t *testing.T, oracle *scriptedOracle, opts ...Option) (*QueryPlan, *Trace, error) {
	t.Helper()
	stage, err := NewPlanning(oracle, quiet(opts...)...)
	require.NoError(t, err)
	trace := NewTrace("", "What is caching?")
	plan, err := stage.Process(context.Background(), PlanRequest{Question: "What is caching?", Trace: trace})
	return plan, trace, err
}

func TestPlanningApprovedInOneRound(t *testing.T) {
	oracle := newOracle().on(stagePlanner, singleKBPlan).on(stageRefiner, approve)

	plan, trace, err := runPlanning(t, oracle)
	require.NoError(t, err)

	assert.Equal(t, 1, oracle.count(stagePlanner))
	assert.Equal(t, 1, oracle.count(stageRefiner))
	assert.Equal(t, AggregationSingleSource, plan.ExecutionOrder.Aggregation)

	rec := trace.Snapshot()
	require.Len(t, rec.Plans, 1)
	require.Len(t, rec.Refinements, 1)
	assert.True(t, rec.Plans[0].Valid)
	assert.False(t, rec.PlanningExhausted)
	require.NotNil(t, rec.FinalPlan)
	assert.Equal(t, "q1", rec.FinalPlan.QueryComponents[0].ID)
	assert.Equal(t, int64(20), rec.Usage.InputTokens)
}

func TestPlanningRecoversFromMalformedOutput(t *testing.T) {
	fenced := "Here is the plan:\n```json\n" + singleKBPlan + "\n```\nLet me know."
	oracle := newOracle().
		on(stagePlanner, "I cannot produce JSON today.", `{"query_components":[]}`, fenced).
		on(stageRefiner, approve)

	plan, trace, err := runPlanning(t, oracle)
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.Equal(t, 3, oracle.count(stagePlanner))
	rec := trace.Snapshot()
	require.Len(t, rec.Plans, 3)
	assert.False(t, rec.Plans[0].Valid)
	assert.NotEmpty(t, rec.Plans[0].Error)
	assert.False(t, rec.Plans[1].Valid)
	assert.True(t, rec.Plans[2].Valid)
	assert.Equal(t, string(extract.MethodFenced), rec.Plans[2].Method)
}

func TestPlanningFailsAfterRetryBudget(t *testing.T) {
	oracle := newOracle().on(stagePlanner, "still not a plan").on(stageRefiner, approve)

	plan, trace, err := runPlanning(t, oracle, WithMaxPlanRetries(3))
	require.Error(t, err)
	assert.Nil(t, plan)

	assert.Equal(t, 3, oracle.count(stagePlanner))
	assert.Equal(t, 0, oracle.count(stageRefiner))

	var perr *ferrors.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ferrors.CategoryPlanning, perr.Category)

	var pge *PlanGenerationError
	require.True(t, errors.As(err, &pge))
	assert.Equal(t, "still not a plan", pge.LastOutput)
	assert.True(t, errors.Is(err, ferrors.ErrMalformedOutput))
	assert.Len(t, trace.Snapshot().Plans, 3)
}

func TestPlanningRejectsInvalidPlans(t *testing.T) {
	threeComponents := `{"query_components":[` +
		`{"id":"a","sub_query":"x","source":"kb"},{"id":"b","sub_query":"y","source":"web"},{"id":"c","sub_query":"z","source":"notion"}]}`
	unknownSource := `{"query_components":[{"id":"a","sub_query":"x","source":"jira"}]}`
	badAggregation := `{"query_components":[{"id":"a","sub_query":"x","source":"kb"}],"execution_order":{"nodes":["a"],"aggregation":"vote"}}`

	oracle := newOracle().on(stagePlanner, threeComponents, unknownSource, badAggregation)

	_, trace, err := runPlanning(t, oracle)
	require.Error(t, err)
	var pe *PlanError
	assert.True(t, errors.As(err, &pe))

	rec := trace.Snapshot()
	require.Len(t, rec.Plans, 3)
	assert.Contains(t, rec.Plans[0].Error, "at most 2")
	assert.Contains(t, rec.Plans[1].Error, "unknown source")
	assert.Contains(t, rec.Plans[2].Error, "unknown aggregation")
}

func TestPlanningTransportErrorIsNotRetried(t *testing.T) {
	oracle := newOracle().fail(stagePlanner, ferrors.ErrTimeout)

	_, _, err := runPlanning(t, oracle)
	require.Error(t, err)
	assert.Equal(t, 1, oracle.count(stagePlanner))

	var perr *ferrors.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ferrors.CategoryTimeout, perr.Category)
}

func TestPlanningRefinementRoundsExhausted(t *testing.T) {
	oracle := newOracle().on(stagePlanner, singleKBPlan).on(stageRefiner, reject)

	plan, trace, err := runPlanning(t, oracle, WithMaxRefineRetries(3))
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.Equal(t, 3, oracle.count(stageRefiner))
	assert.Equal(t, 3, oracle.count(stagePlanner))

	rec := trace.Snapshot()
	assert.True(t, rec.PlanningExhausted)
	require.Len(t, rec.Refinements, 3)
	for i, r := range rec.Refinements {
		assert.Equal(t, i+1, r.Round)
		assert.True(t, bool(r.Feedback.RefinementRequired))
	}
	assert.Contains(t, oracle.lastPrompt(stagePlanner), "runbooks live in notion")
}

func TestPlanningKeepsEarlierPlanWhenReplanningFails(t *testing.T) {
	oracle := newOracle().
		on(stagePlanner, singleKBPlan, "garbage").
		on(stageRefiner, reject)

	plan, trace, err := runPlanning(t, oracle, WithMaxPlanRetries(2))
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "q1", plan.QueryComponents[0].ID)

	assert.Equal(t, 3, oracle.count(stagePlanner))
	assert.Equal(t, 1, oracle.count(stageRefiner))

	rec := trace.Snapshot()
	assert.True(t, rec.PlanningExhausted)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, ferrors.CategoryPlanning, rec.Errors[0].Category)
}

func TestRefinerMalformedOutputApproves(t *testing.T) {
	oracle := newOracle().on(stagePlanner, singleKBPlan).on(stageRefiner, "looks good to me!")

	plan, trace, err := runPlanning(t, oracle)
	require.NoError(t, err)
	require.NotNil(t, plan)

	rec := trace.Snapshot()
	require.Len(t, rec.Refinements, 1)
	assert.False(t, bool(rec.Refinements[0].Feedback.RefinementRequired))
	assert.True(t, strings.HasPrefix(rec.Refinements[0].Feedback.Error, "refiner output parse error"))
	assert.False(t, rec.PlanningExhausted)
}

func TestRefinerFailureApproves(t *testing.T) {
	oracle := newOracle().on(stagePlanner, singleKBPlan).fail(stageRefiner, errors.New("connection reset"))

	_, trace, err := runPlanning(t, oracle)
	require.NoError(t, err)

	rec := trace.Snapshot()
	require.Len(t, rec.Refinements, 1)
	assert.Contains(t, rec.Refinements[0].Feedback.Error, "connection reset")
}

func TestPlannerFillsOmittedFields(t *testing.T) {
	bare := `{"query_components":[{"id":"q1","sub_query":"What is caching?","source":"KB"}]}`
	oracle := newOracle().on(stagePlanner, bare).on(stageRefiner, approve)

	plan, _, err := runPlanning(t, oracle)
	require.NoError(t, err)

	assert.Equal(t, "What is caching?", plan.UserQuery)
	assert.Equal(t, []string{"q1"}, plan.ExecutionOrder.Nodes)
	assert.Equal(t, AggregationSingleSource, plan.ExecutionOrder.Aggregation)
	assert.Len(t, plan.DataSources, 1)
	assert.EqualValues(t, "kb", plan.DataSources[0])
}
