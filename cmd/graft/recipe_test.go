package main

import (
	"strings"
	"testing"

	"github.com/samcharles93/graft/pkg/tuner"
)

const twoAdapterRecipe = `
host:
  preset: small
  layers: 1
adapters:
  style:
    tuner_type: LORA
    target_modules: [query, value]
    r: 2
    lora_alpha: 4
    init_lora_weights: ones
  side:
    tuner_type: SIDE
    dim: 16
    target_modules:
      paths: [encoder]
    target_hidden_pos: 0
`

func TestParseRecipe(t *testing.T) {
	host, adapters, err := parseRecipe([]byte(twoAdapterRecipe))
	if err != nil {
		t.Fatalf("parseRecipe returned error: %v", err)
	}
	if host == nil || host.Preset != "small" || host.Layers != 1 {
		t.Fatalf("unexpected host: %+v", host)
	}
	if len(adapters) != 2 || adapters[0].Name != "style" || adapters[1].Name != "side" {
		t.Fatalf("adapters out of file order: %+v", adapters)
	}
	lora, ok := adapters[0].Config.(*tuner.LoRAConfig)
	if !ok {
		t.Fatalf("expected a LoRA config, got %T", adapters[0].Config)
	}
	if lora.R != 2 || lora.Alpha != 4 || lora.Init != "ones" {
		t.Fatalf("unexpected lora config: %+v", lora)
	}
	if got := lora.TargetModules.Names; len(got) != 2 || got[0] != "query" {
		t.Fatalf("unexpected targets: %v", got)
	}
	if adapters[1].Config.Kind() != tuner.KindSide {
		t.Fatalf("unexpected kind %s", adapters[1].Config.Kind())
	}
}

func TestParseRecipeErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no adapters", "host:\n  preset: small\n", "no adapters"},
		{"empty adapters", "adapters: {}\n", "no adapters"},
		{"list instead of map", "adapters:\n  - tuner_type: LORA\n", "mapping"},
		{"missing kind", "adapters:\n  a:\n    r: 2\n", `"a"`},
		{"unknown kind", "adapters:\n  a:\n    tuner_type: NOPE\n", "NOPE"},
		{"bad yaml", "adapters: [\n", "parse recipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseRecipe([]byte(tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
