package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/graft/pkg/graft"
	"github.com/samcharles93/graft/pkg/tuner"
)

// recipe is an adapter recipe file:
//
//	host:
//	  preset: small
//	adapters:
//	  default:
//	    tuner_type: LORA
//	    target_modules: [query, value]
//	    r: 8
//
// Adapters are prepared in file order.
type recipe struct {
	Host     *hostSpec `yaml:"host"`
	Adapters yaml.Node `yaml:"adapters"`
}

func loadRecipe(path string) (*hostSpec, []graft.Adapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return parseRecipe(data)
}

func parseRecipe(data []byte) (*hostSpec, []graft.Adapter, error) {
	var r recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, nil, fmt.Errorf("parse recipe: %w", err)
	}
	node := &r.Adapters
	if node.Kind == 0 {
		return nil, nil, errors.New("recipe has no adapters")
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("recipe line %d: adapters must be a mapping of name to config", node.Line)
	}
	if len(node.Content) == 0 {
		return nil, nil, errors.New("recipe has no adapters")
	}
	adapters := make([]graft.Adapter, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, body := node.Content[i], node.Content[i+1]
		cfg, err := tuner.DecodeYAML(body)
		if err != nil {
			return nil, nil, fmt.Errorf("recipe adapter %q (line %d): %w", key.Value, key.Line, err)
		}
		adapters = append(adapters, graft.Named(key.Value, cfg))
	}
	return r.Host, adapters, nil
}
