package tuner

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/samcharles93/graft/internal/tensor"
)

// DefaultInit is the strategy used when a config leaves Init empty.
const DefaultInit = "default"

// InitFunc fills a freshly built tuner's parameters.
type InitFunc func(t Tuner, rng *rand.Rand) error

type initKey struct {
	kind Kind
	name string
}

var (
	initsMu sync.RWMutex
	inits   = map[initKey]InitFunc{}
)

// RegisterInit adds a named strategy for kind. An empty kind makes the
// strategy available to every kind that does not define its own.
func RegisterInit(kind Kind, name string, fn InitFunc) {
	if name == "" || fn == nil {
		panic("tuner: RegisterInit requires a name and a function")
	}
	initsMu.Lock()
	defer initsMu.Unlock()
	k := initKey{kind, name}
	if _, ok := inits[k]; ok {
		panic(fmt.Sprintf("tuner: init %q for kind %q registered twice", name, kind))
	}
	inits[k] = fn
}

func lookupInit(kind Kind, name string) (InitFunc, bool) {
	if name == "" {
		name = DefaultInit
	}
	initsMu.RLock()
	defer initsMu.RUnlock()
	if fn, ok := inits[initKey{kind, name}]; ok {
		return fn, true
	}
	fn, ok := inits[initKey{"", name}]
	return fn, ok
}

// InitNames lists the strategies usable by kind.
func InitNames(kind Kind) []string {
	initsMu.RLock()
	defer initsMu.RUnlock()
	seen := map[string]struct{}{}
	for k := range inits {
		if k.kind == kind || k.kind == "" {
			seen[k.name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func checkInit(kind Kind, name string) error {
	if _, ok := lookupInit(kind, name); !ok {
		return fmt.Errorf("unknown init strategy %q for %s", name, kind)
	}
	return nil
}

// initialise runs the named strategy with an RNG derived from seed and the
// tuner's path, so identical configs on identical hosts give identical
// weights regardless of the adapter's name.
func initialise(t Tuner, name string, seed int64) error {
	fn, ok := lookupInit(t.Kind(), name)
	if !ok {
		return fmt.Errorf("unknown init strategy %q for %s", name, t.Kind())
	}
	h := fnv.New64a()
	h.Write([]byte(t.Path()))
	rng := rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
	return fn(t, rng)
}

func fillAll(v float32) InitFunc {
	return func(t Tuner, _ *rand.Rand) error {
		for _, p := range t.Params() {
			tensor.Fill(p.Value, v)
		}
		return nil
	}
}

// kaimingUniform matches the usual default for linear layers:
// U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func kaimingUniform(m *tensor.Mat, rng *rand.Rand) {
	tensor.FillUniform(m, rng, 1/math.Sqrt(float64(m.C)))
}

func xavierUniform(m *tensor.Mat, rng *rand.Rand) {
	tensor.FillUniform(m, rng, math.Sqrt(6/float64(m.R+m.C)))
}

func init() {
	RegisterInit("", "zeros", fillAll(0))
	RegisterInit("", "ones", fillAll(1))
}
