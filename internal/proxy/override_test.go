package proxy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyModelOverride(t *testing.T) {
	payload := json.RawMessage(`{"model":"requested-model","messages":[{"role":"user","content":"hi"}],"custom_field":true}`)

	out := ApplyModelOverride(payload, "forced-model")

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Equal(t, `"forced-model"`, string(fields["model"]))

	// Every other field survives byte-for-byte.
	assert.Equal(t, `[{"role":"user","content":"hi"}]`, string(fields["messages"]))
	assert.Equal(t, `true`, string(fields["custom_field"]))
}

func TestApplyModelOverrideAddsMissingField(t *testing.T) {
	out := ApplyModelOverride(json.RawMessage(`{"messages":[]}`), "forced-model")

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Equal(t, `"forced-model"`, string(fields["model"]))
}

func TestApplyModelOverrideDisabled(t *testing.T) {
	payload := json.RawMessage(`{"model":"requested-model"}`)
	out := ApplyModelOverride(payload, "")
	assert.Equal(t, string(payload), string(out))
}

func TestApplyModelOverrideNonObjectPayload(t *testing.T) {
	payload := json.RawMessage(`[1,2,3]`)
	out := ApplyModelOverride(payload, "forced-model")
	assert.Equal(t, string(payload), string(out))
}
