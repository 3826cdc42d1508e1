package tuner

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func intPtr(v int) *int             { return &v }
func float32Ptr(v float32) *float32 { return &v }

func sampleConfigs() []Config {
	return []Config{
		&LoRAConfig{TargetModules: Names("query", "key", "value"), R: 4, Alpha: 8, Dropout: 0.1, Init: "ones", Seed: 7},
		&BottleneckConfig{Dim: 8, TargetModules: Regex(`.*layer\.\d+`), HiddenPos: 0, AdapterLength: 4, ActLayer: "relu"},
		&PromptConfig{Dim: 8, TargetModules: Regex(`.*layer\.\d+`), PromptLength: 2, AttentionMaskPos: intPtr(1), ExtractEmbedding: true},
		&SideConfig{Dim: 8, TargetModules: Paths("encoder"), SideModuleName: "linear"},
		&ResTuningConfig{Dims: 8, RootModules: Regex(`.*layer\.0`), StemModules: Regex(`.*layer\.\d+`), TargetModules: Names("pooler"), TunerCfg: "res_adapter"},
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	for _, cfg := range sampleConfigs() {
		t.Run(string(cfg.Kind()), func(t *testing.T) {
			t.Parallel()
			require.NoError(t, cfg.Validate())

			data, err := MarshalConfig(cfg)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(data, &fields))
			require.Equal(t, string(cfg.Kind()), fields[TypeKey])

			back, err := UnmarshalConfig(data)
			require.NoError(t, err)
			require.Equal(t, cfg, back)
			require.True(t, Equal(cfg, back))
		})
	}
}

func TestUnmarshalConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalConfig([]byte(`{"r": 8}`))
	require.ErrorContains(t, err, TypeKey)

	_, err = UnmarshalConfig([]byte(`{"tuner_type": "NOPE"}`))
	require.ErrorContains(t, err, "unknown tuner kind")

	_, err = UnmarshalConfig([]byte(`{"tuner_type": "LORA", "target_modules": ["q"], "r": -1}`))
	require.Error(t, err)

	_, err = UnmarshalConfig([]byte(`{"tuner_type": "ADAPTER", "dim": 0, "target_modules": ["q"]}`))
	require.ErrorContains(t, err, "dim")
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	src := `
tuner_type: LORA
target_modules: [query, value]
r: 2
init_lora_weights: gaussian
`
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	cfg, err := DecodeYAML(node.Content[0])
	require.NoError(t, err)
	require.Equal(t, &LoRAConfig{TargetModules: Names("query", "value"), R: 2, Init: "gaussian"}, cfg)
}

func TestConfigEqual(t *testing.T) {
	t.Parallel()

	a := &LoRAConfig{TargetModules: Names("query")}
	b := &LoRAConfig{TargetModules: Names("query")}
	c := &LoRAConfig{TargetModules: Names("key")}
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
	require.False(t, Equal(a, &BottleneckConfig{Dim: 1, TargetModules: Names("query")}))

	pred := &LoRAConfig{TargetModules: Predicate(func(string) bool { return true })}
	require.True(t, Equal(pred, pred))
	require.False(t, Equal(pred, &LoRAConfig{TargetModules: Predicate(func(string) bool { return true })}))
	require.Error(t, Persistable(pred))
	require.NoError(t, Persistable(a))
}

func TestConfigEqualFillsDefaults(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		implicit, explicit, other Config
	}{
		{
			&LoRAConfig{TargetModules: Names("q")},
			&LoRAConfig{TargetModules: Names("q"), R: 8, Alpha: 8, Init: DefaultInit},
			&LoRAConfig{TargetModules: Names("q"), R: 4},
		},
		{
			&BottleneckConfig{Dim: 4, TargetModules: Names("l")},
			&BottleneckConfig{Dim: 4, TargetModules: Names("l"), AdapterLength: 128, ActLayer: "gelu"},
			&BottleneckConfig{Dim: 4, TargetModules: Names("l"), ActLayer: "relu"},
		},
		{
			&PromptConfig{Dim: 4, TargetModules: Names("l"), AttentionMaskPos: intPtr(1)},
			&PromptConfig{Dim: 4, TargetModules: Names("l"), AttentionMaskPos: intPtr(1), PromptLength: 16, AttentionMaskValue: float32Ptr(1)},
			&PromptConfig{Dim: 4, TargetModules: Names("l"), AttentionMaskPos: intPtr(1), AttentionMaskValue: float32Ptr(0)},
		},
		{
			&SideConfig{Dim: 4, TargetModules: Paths("enc")},
			&SideConfig{Dim: 4, TargetModules: Paths("enc"), SideModuleName: "mlp"},
			&SideConfig{Dim: 4, TargetModules: Paths("enc"), SideModuleName: "linear"},
		},
		{
			&ResTuningConfig{Dims: 4, StemModules: Names("b"), TargetModules: Names("c")},
			&ResTuningConfig{Dims: 4, StemModules: Names("b"), TargetModules: Names("c"), TargetModulesHook: "input", TunerCfg: "res_adapter"},
			&ResTuningConfig{Dims: 4, StemModules: Names("b"), TargetModules: Names("c"), TargetModulesHook: "output"},
		},
	} {
		kind := tc.implicit.Kind()
		require.True(t, Equal(tc.implicit, tc.explicit), kind)
		require.True(t, Equal(tc.explicit, tc.implicit), kind)
		require.False(t, Equal(tc.implicit, tc.other), kind)
	}

	// filling defaults never writes through
	c := &LoRAConfig{TargetModules: Names("q")}
	require.True(t, Equal(c, &LoRAConfig{TargetModules: Names("q"), R: 8}))
	require.Zero(t, c.R)
}

func TestValidateRejectsUnknownInit(t *testing.T) {
	t.Parallel()

	cfg := &LoRAConfig{TargetModules: Names("q"), Init: "nope"}
	require.ErrorContains(t, cfg.Validate(), "unknown init")

	require.Contains(t, InitNames(KindLoRA), "gaussian")
	require.Contains(t, InitNames(KindPrompt), "zeros")
	require.NotContains(t, InitNames(KindPrompt), "gaussian")
}

func TestKindsRegistered(t *testing.T) {
	t.Parallel()

	require.Equal(t, []Kind{KindBottleneck, KindLoRA, KindPrompt, KindResTuning, KindSide}, Kinds())
	require.True(t, Mergeable(KindLoRA))
	for _, k := range []Kind{KindBottleneck, KindPrompt, KindSide, KindResTuning} {
		require.False(t, Mergeable(k), k)
	}
	require.Panics(t, func() { Register(KindInfo{Kind: KindLoRA, New: func() Config { return &LoRAConfig{} }}) })
}
