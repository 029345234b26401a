package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planPayload struct {
	Steps []string `json:"steps"`
	Mode  string   `json:"mode"`
}

func TestEncodeDecode(t *testing.T) {
	env, err := Encode("planner", KindPlan, planPayload{Steps: []string{"q1", "q2"}, Mode: "parallel"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "planner", env.Stage)
	assert.Equal(t, KindPlan, env.Kind)
	assert.False(t, env.CreatedAt.IsZero())

	got, err := Decode[planPayload](env)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, got.Steps)
	assert.Equal(t, "parallel", got.Mode)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode[planPayload](nil)
	assert.Error(t, err)

	_, err = Decode[planPayload](&Envelope{Stage: "planner", Kind: KindPlan, Payload: "{not json"})
	assert.Error(t, err)
}

func TestEncodeRejectsUnserializable(t *testing.T) {
	_, err := Encode("executor", KindAnswer, map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	env, err := Encode("executor", KindAnswer, map[string]string{"answer": "ok"})
	require.NoError(t, err)

	sum := env.Summarize()
	assert.Equal(t, env.ID, sum.ID)
	assert.Equal(t, len(env.Payload), sum.Bytes)
}
