package tuner

import (
	"fmt"
	"sort"
	"sync"
)

// Kind tags a tuner variant. The string form is what lands in saved configs.
type Kind string

const (
	KindLoRA       Kind = "LORA"
	KindBottleneck Kind = "ADAPTER"
	KindPrompt     Kind = "PROMPT"
	KindSide       Kind = "SIDE"
	KindResTuning  Kind = "RESTUNING"
)

// KindInfo describes a registered kind.
type KindInfo struct {
	Kind Kind
	// New returns an empty config for decoding.
	New func() Config
	// Mergeable reports whether the kind's effect folds linearly into base weights.
	Mergeable bool
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Kind]KindInfo{}
)

// Register adds a kind. Registering the same kind twice panics.
func Register(info KindInfo) {
	if info.Kind == "" || info.New == nil {
		panic("tuner: Register requires a kind and a constructor")
	}
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, ok := kinds[info.Kind]; ok {
		panic(fmt.Sprintf("tuner: kind %s registered twice", info.Kind))
	}
	kinds[info.Kind] = info
}

// Lookup returns the registration for k.
func Lookup(k Kind) (KindInfo, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	info, ok := kinds[k]
	return info, ok
}

// Mergeable reports whether adapters of kind k support MergeAndUnload.
func Mergeable(k Kind) bool {
	info, ok := Lookup(k)
	return ok && info.Mergeable
}

// Kinds lists registered kinds in lexical order.
func Kinds() []Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
