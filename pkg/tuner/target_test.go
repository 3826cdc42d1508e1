package tuner

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPatternMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern Pattern
		path    string
		want    bool
	}{
		{"name suffix", Names("query"), "encoder.layer.0.attention.self.query", true},
		{"name exact", Names("query"), "query", true},
		{"name not substring", Names("query"), "encoder.layer.0.attention.self.query_proj", false},
		{"name not segment infix", Names("self"), "encoder.layer.0.attention.self.query", false},
		{"regex anchored", Regex(`.*layer\.\d+`), "encoder.layer.1", true},
		{"regex anchored end", Regex(`.*layer\.\d+`), "encoder.layer.1.output", false},
		{"regex anchored start", Regex(`layer\.\d+`), "encoder.layer.1", false},
		{"path exact", Paths("pooler"), "pooler", true},
		{"path no suffix", Paths("dense"), "pooler.dense", false},
		{"predicate", Predicate(func(p string) bool { return p == "x.y" }), "x.y", true},
		{"union", Pattern{Names: []string{"key"}, Paths: []string{"pooler"}}, "pooler", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			match, err := tt.pattern.Compile()
			require.NoError(t, err)
			require.Equal(t, tt.want, match(tt.path))
		})
	}
}

func TestPatternCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := Pattern{}.Compile()
	require.Error(t, err)

	_, err = Regex("(").Compile()
	require.ErrorContains(t, err, "target regex")
}

func TestPatternJSONShorthand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern Pattern
		want    string
	}{
		{Names("query", "key"), `["query","key"]`},
		{Regex(`.*layer\.\d+$`), `".*layer\\.\\d+$"`},
		{Pattern{Names: []string{"a"}, Paths: []string{"b"}}, `{"names":["a"],"paths":["b"]}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.pattern)
		require.NoError(t, err)
		require.JSONEq(t, tt.want, string(data))

		var back Pattern
		require.NoError(t, json.Unmarshal(data, &back))
		require.Equal(t, tt.pattern, back)
	}

	_, err := json.Marshal(Predicate(func(string) bool { return true }))
	require.Error(t, err)
}

func TestPatternYAML(t *testing.T) {
	t.Parallel()

	var doc struct {
		A Pattern `yaml:"a"`
		B Pattern `yaml:"b"`
		C Pattern `yaml:"c"`
	}
	src := "a: [query, value]\nb: '.*pooler'\nc:\n  paths: [classifier]\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	require.Equal(t, Names("query", "value"), doc.A)
	require.Equal(t, Regex(".*pooler"), doc.B)
	require.Equal(t, Paths("classifier"), doc.C)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.Contains(t, string(out), "- query")
}

func TestRoleString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "input", InputRole().String())
	require.Equal(t, "output", OutputRole().String())
	require.Equal(t, "hidden:2", HiddenRole(2).String())
	require.Equal(t, "mask:1", MaskRole(1).String())

	tg := Target{Label: "target_modules", Pattern: Names("query"), Role: OutputRole()}
	require.Equal(t, "target_modules[names=query]@output", tg.String())
}
