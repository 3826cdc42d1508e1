package graft

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
	"github.com/samcharles93/graft/pkg/tuner"
)

// On-disk layout.
const (
	ConfigFile   = "adapter_config.json"
	WeightsFile  = "adapter_model.safetensors"
	ManifestFile = "graft_manifest.json"

	manifestVersion = 1
	weightsFormat   = "graft"
)

// Manifest lists the adapters stored under one save directory.
type Manifest struct {
	Version  int      `json:"version"`
	SaveID   string   `json:"save_id"`
	Adapters []string `json:"adapters"`
	DType    string   `json:"dtype"`
}

// SaveOptions controls SaveWith.
type SaveOptions struct {
	// Names selects adapters; empty means all.
	Names []string
	// DType is safetensors.DTypeF32 (default) or safetensors.DTypeBF16.
	DType string
}

// Save writes the named adapters (all when none are given) in F32.
func (m *Model) Save(dir string, names ...string) error {
	return m.SaveWith(dir, SaveOptions{Names: names})
}

// SaveWith writes one subdirectory per adapter holding its config and
// weights, then records the names in the directory manifest. Names already
// listed in an existing manifest are kept.
func (m *Model) SaveWith(dir string, opts SaveOptions) error {
	dtype := opts.DType
	if dtype == "" {
		dtype = safetensors.DTypeF32
	}
	if dtype != safetensors.DTypeF32 && dtype != safetensors.DTypeBF16 {
		return fmt.Errorf("save: unsupported dtype %q", dtype)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	names := opts.Names
	if len(names) == 0 {
		names = append([]string(nil), m.order...)
	}
	if len(names) == 0 {
		return errors.New("save: no adapters registered")
	}
	for _, name := range names {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if err := tuner.Persistable(e.cfg); err != nil {
			return fmt.Errorf("save adapter %q: %w", name, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	var g errgroup.Group
	for _, name := range names {
		e := m.entries[name]
		g.Go(func() error {
			return saveAdapter(filepath.Join(dir, name), name, e, dtype)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	man := Manifest{Version: manifestVersion, SaveID: uuid.NewString(), DType: dtype}
	if prev, err := ReadManifest(dir); err == nil {
		man.Adapters = prev.Adapters
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	man.Adapters = union(man.Adapters, names)
	if err := writeJSON(filepath.Join(dir, ManifestFile), man); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	m.log.Info("saved adapters", "dir", dir, "adapters", names, "dtype", dtype, "save_id", man.SaveID)
	return nil
}

func saveAdapter(dir, name string, e *entry, dtype string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save adapter %q: %w", name, err)
	}
	raw, err := tuner.MarshalConfig(e.cfg)
	if err != nil {
		return fmt.Errorf("save adapter %q: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), raw, 0o644); err != nil {
		return fmt.Errorf("save adapter %q: %w", name, err)
	}
	var tensors []safetensors.Tensor
	for _, t := range e.tuners {
		for _, p := range t.Params() {
			tensors = append(tensors, safetensors.Tensor{Name: t.Path() + "." + p.Name, Mat: p.Value})
		}
	}
	meta := map[string]string{
		"adapter":     name,
		tuner.TypeKey: string(e.cfg.Kind()),
		"format":      weightsFormat,
	}
	if err := safetensors.Write(filepath.Join(dir, WeightsFile), tensors, dtype, meta); err != nil {
		return fmt.Errorf("save adapter %q: %w", name, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ReadManifest reads the manifest in dir.
func ReadManifest(dir string) (Manifest, error) {
	var man Manifest
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return man, err
	}
	if err := json.Unmarshal(raw, &man); err != nil {
		return man, fmt.Errorf("decode %s: %w", ManifestFile, err)
	}
	if man.Version != manifestVersion {
		return man, fmt.Errorf("%s: unsupported version %d", ManifestFile, man.Version)
	}
	return man, nil
}

// SavedAdapters lists the adapter names stored in dir: the manifest's list
// when there is one, otherwise every subdirectory holding a config file.
func SavedAdapters(dir string) ([]string, error) {
	man, err := ReadManifest(dir)
	if err == nil {
		return man.Adapters, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, ent.Name(), ConfigFile)); err == nil {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: no saved adapters", dir)
	}
	return names, nil
}

type saved struct {
	name    string
	cfg     tuner.Config
	weights map[string]*tensor.Mat
}

func readAdapter(dir, name string) (saved, error) {
	s := saved{name: name}
	raw, err := os.ReadFile(filepath.Join(dir, name, ConfigFile))
	if err != nil {
		return s, fmt.Errorf("load adapter %q: %w", name, err)
	}
	if s.cfg, err = tuner.UnmarshalConfig(raw); err != nil {
		return s, fmt.Errorf("load adapter %q: %w", name, err)
	}
	f, err := safetensors.Open(filepath.Join(dir, name, WeightsFile))
	if err != nil {
		return s, fmt.Errorf("load adapter %q: %w", name, err)
	}
	defer f.Close()
	s.weights = make(map[string]*tensor.Mat, len(f.Tensors))
	for key := range f.Tensors {
		mat, err := f.ReadMat(key)
		if err != nil {
			return s, fmt.Errorf("load adapter %q: %w", name, err)
		}
		s.weights[key] = mat
	}
	return s, nil
}

// Load reads adapters saved under dir (all listed ones when names is empty),
// injects them into the host and restores their weights. A host whose
// structure does not fit a saved adapter fails with IncompatibleHostError and
// leaves the Model as it was.
func (m *Model) Load(dir string, names ...string) error {
	if len(names) == 0 {
		var err error
		if names, err = SavedAdapters(dir); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	for _, name := range names {
		if err := validName(name); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}

	adapters := make([]saved, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			s, err := readAdapter(dir, name)
			adapters[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.RLock()
	existed := make(map[string]bool, len(adapters))
	for _, s := range adapters {
		_, existed[s.name] = m.entries[s.name]
	}
	m.mu.RUnlock()

	var added []string
	rollback := func() {
		m.mu.Lock()
		for _, name := range added {
			m.dropLocked(name)
		}
		m.mu.Unlock()
	}
	for _, s := range adapters {
		if err := m.Prepare(Named(s.name, s.cfg)); err != nil {
			rollback()
			if errors.Is(err, ErrNoMatch) || errors.Is(err, ErrInjectionFailure) {
				return &IncompatibleHostError{Adapter: s.name, Err: err}
			}
			return err
		}
		if !existed[s.name] {
			added = append(added, s.name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	type job struct {
		params map[string]*tensor.Mat
		src    map[string]*tensor.Mat
	}
	jobs := make([]job, 0, len(adapters))
	for _, s := range adapters {
		params := make(map[string]*tensor.Mat)
		for _, t := range m.entries[s.name].tuners {
			for _, p := range t.Params() {
				params[t.Path()+"."+p.Name] = p.Value
			}
		}
		if err := checkParams(params, s.weights); err != nil {
			for _, name := range added {
				m.dropLocked(name)
			}
			return &IncompatibleHostError{Adapter: s.name, Err: err}
		}
		jobs = append(jobs, job{params: params, src: s.weights})
	}
	for _, jb := range jobs {
		for key, dst := range jb.params {
			copy(dst.Data, jb.src[key].Data)
		}
	}
	m.log.Info("loaded adapters", "dir", dir, "adapters", strings.Join(names, ","))
	return nil
}

// FromPretrained loads adapters saved under dir onto host. Passing an
// existing *Model adds to it.
func FromPretrained(host nn.Module, dir string, names ...string) (*Model, error) {
	m, ok := host.(*Model)
	if !ok {
		m = New(host)
	}
	if err := m.Load(dir, names...); err != nil {
		return nil, err
	}
	return m, nil
}
