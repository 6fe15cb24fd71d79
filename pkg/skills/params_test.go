package skills

import (
	"encoding/json"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleParams struct {
	Name     string   `json:"name" jsonschema:"description=Context name"`
	Budget   int      `json:"budget,omitempty"`
	Ratio    float64  `json:"ratio,omitempty"`
	New      bool     `json:"new,omitempty"`
	Mode     string   `json:"mode,omitempty" jsonschema:"enum=fast,enum=slow"`
	Tags     []string `json:"tags,omitempty"`
	Variable string   `json:"variable,omitempty"`
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[sampleParams]()
	assert.Equal(t, "object", schema.Type)
	assert.True(t, closed(schema))
	assert.Equal(t, []string{"name"}, schema.Required)
	assert.Equal(t, []string{"name", "budget", "ratio", "new", "mode", "tags", "variable"}, PropertyNames(schema))
}

func TestValidateCoercesTypes(t *testing.T) {
	schema := GenerateSchema[sampleParams]()
	values, err := Validate(schema, Params{
		"name":   "research",
		"budget": "200",
		"ratio":  "0.5",
		"new":    "true",
		"mode":   "fast",
		"tags":   "a, b",
	})
	require.NoError(t, err)
	assert.Equal(t, "research", values["name"])
	assert.Equal(t, int64(200), values["budget"])
	assert.Equal(t, 0.5, values["ratio"])
	assert.Equal(t, true, values["new"])
	assert.Equal(t, []any{"a", "b"}, values["tags"])
}

func TestValidateReportsEveryProblem(t *testing.T) {
	schema := GenerateSchema[sampleParams]()
	_, err := Validate(schema, Params{
		"budget": "lots",
		"mode":   "medium",
		"colour": "red",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParams)
	msg := err.Error()
	assert.Contains(t, msg, "--budget: expected an integer")
	assert.Contains(t, msg, "--mode: must be one of fast, slow")
	assert.Contains(t, msg, "unknown flag --colour")
	assert.Contains(t, msg, "missing required flag --name")
}

func TestValidateAlwaysAcceptsVariable(t *testing.T) {
	type noVariable struct {
		Path string `json:"path"`
	}
	values, err := Validate(GenerateSchema[noVariable](), Params{"path": "a.md", "variable": "doc"})
	require.NoError(t, err)
	assert.Equal(t, "doc", values["variable"])
}

func TestValidateOpenSchemaFromJSON(t *testing.T) {
	var schema jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}},
		"required": ["count"]
	}`), &schema))

	values, err := Validate(&schema, Params{"count": "3", "extra": "ok"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), values["count"])
	assert.Equal(t, "ok", values["extra"])

	var strict jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(`{"type":"object","additionalProperties":false}`), &strict))
	_, err = Validate(&strict, Params{"extra": "no"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestValidateNilSchema(t *testing.T) {
	values, err := Validate(nil, Params{"anything": "goes"})
	require.NoError(t, err)
	assert.Equal(t, "goes", values["anything"])
}

func TestBind(t *testing.T) {
	var p sampleParams
	err := Bind(GenerateSchema[sampleParams](), Params{"name": "x", "budget": "12", "new": "true", "variable": "out"}, &p)
	require.NoError(t, err)
	assert.Equal(t, sampleParams{Name: "x", Budget: 12, New: true, Variable: "out"}, p)

	err = Bind(GenerateSchema[sampleParams](), Params{}, &p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}
