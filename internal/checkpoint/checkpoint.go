package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// ErrCorrupt indicates a checkpoint whose stored tag, config, or state
// cannot be resolved. Restoring never falls back to fresh initialization:
// a corrupt checkpoint is surfaced to the operator.
var ErrCorrupt = errors.New("checkpoint: corrupt checkpoint")

// Saveable is anything that can be persisted through the registry. The
// checkpoint stores the tag and constructor config, never code.
type Saveable interface {
	CheckpointTag() string
	CheckpointConfig() interface{}
	CheckpointState() interface{}
}

// Factory rebuilds an object from its persisted config and state.
type Factory func(config, state json.RawMessage) (interface{}, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a type tag to its factory. Typically called from init.
func Register(tag string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[tag] = f
}

type envelope struct {
	Tag    string          `json:"tag"`
	Step   int64           `json:"step"`
	Config json.RawMessage `json:"config"`
	State  json.RawMessage `json:"state"`
}

// Save persists s under path together with the completed-step count.
func Save(path string, s Saveable, step int64) error {
	cfg, err := json.Marshal(s.CheckpointConfig())
	if err != nil {
		return errors.Wrapf(err, "marshal config for %q", s.CheckpointTag())
	}
	state, err := json.Marshal(s.CheckpointState())
	if err != nil {
		return errors.Wrapf(err, "marshal state for %q", s.CheckpointTag())
	}
	data, err := json.Marshal(envelope{
		Tag:    s.CheckpointTag(),
		Step:   step,
		Config: cfg,
		State:  state,
	})
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return WriteAtomic(path, data)
}

// Load rehydrates the object persisted at path and returns it together
// with the completed-step count recorded at save time.
func Load(path string) (interface{}, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "read checkpoint %s", path)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, errors.Wrapf(ErrCorrupt, "decode envelope %s: %v", path, err)
	}
	mu.RLock()
	factory, ok := registry[env.Tag]
	mu.RUnlock()
	if !ok {
		return nil, 0, errors.Wrapf(ErrCorrupt, "unknown tag %q in %s", env.Tag, path)
	}
	obj, err := factory(env.Config, env.State)
	if err != nil {
		return nil, 0, errors.Wrapf(ErrCorrupt, "rebuild %q from %s: %v", env.Tag, path, err)
	}
	return obj, env.Step, nil
}

// SaveJSON persists v at path as JSON, atomically.
func SaveJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", path)
	}
	return WriteAtomic(path, data)
}

// LoadJSON reads the JSON persisted at path into v.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrCorrupt, "decode %s: %v", path, err)
	}
	return nil
}

// WriteAtomic writes data to path via a temporary file and rename, so a
// crash mid-write never leaves a partially-updated checkpoint behind.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", path)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "rename %s", path)
	}
	return nil
}
