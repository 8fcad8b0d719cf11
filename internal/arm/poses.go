package arm

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/poses-v1.json
var poseSchemaJSON string

const (
	PoseHome  = "home"
	PoseReset = "reset"
)

var ErrPoseNotFound = errors.New("pose not found")

// Pose is a named set of joint angles.
type Pose struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Angles      []int  `yaml:"angles" json:"angles"`
}

type poseFile struct {
	Poses []Pose `yaml:"poses"`
}

// DefaultPoses are always present unless a pose file overrides them.
func DefaultPoses() []Pose {
	return []Pose{
		{Name: PoseHome, Description: "firmware init angles", Angles: []int{90, 90, 65, 90, 90, 90, 80}},
		{Name: PoseReset, Description: "all joints centred", Angles: []int{90, 90, 90, 90, 90, 90, 90}},
	}
}

type PoseLibrary struct {
	mu    sync.RWMutex
	poses map[string]Pose
}

func NewPoseLibrary() *PoseLibrary {
	lib := &PoseLibrary{poses: make(map[string]Pose)}
	for _, p := range DefaultPoses() {
		lib.poses[p.Name] = p
	}
	return lib
}

// LoadPoseFile reads a YAML pose file on top of the defaults.
func LoadPoseFile(path string) (*PoseLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pose file: %w", err)
	}

	lib := NewPoseLibrary()
	if err := lib.Load(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// Load validates a YAML document and merges its poses into the library.
// Nothing is merged if any pose is invalid.
func (l *PoseLibrary) Load(data []byte) error {
	if err := validatePoseDoc(data); err != nil {
		return err
	}

	var file poseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to decode poses: %w", err)
	}

	seen := make(map[string]bool, len(file.Poses))
	for _, p := range file.Poses {
		if seen[p.Name] {
			return fmt.Errorf("duplicate pose %q", p.Name)
		}
		seen[p.Name] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range file.Poses {
		l.poses[p.Name] = p
	}
	return nil
}

func (l *PoseLibrary) Get(name string) (Pose, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.poses[name]
	if !ok {
		return Pose{}, fmt.Errorf("%w: %s", ErrPoseNotFound, name)
	}
	p.Angles = append([]int(nil), p.Angles...)
	return p, nil
}

// List returns all poses ordered by name.
func (l *PoseLibrary) List() []Pose {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Pose, 0, len(l.poses))
	for _, p := range l.poses {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var poseSchema = mustCompilePoseSchema()

func mustCompilePoseSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("poses-v1.json", strings.NewReader(poseSchemaJSON)); err != nil {
		panic(fmt.Sprintf("pose schema: %v", err))
	}
	return compiler.MustCompile("poses-v1.json")
}

// validatePoseDoc checks the YAML document against the pose schema. The
// document goes through JSON so the validator sees plain JSON types.
func validatePoseDoc(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert poses: %w", err)
	}
	var jdoc any
	if err := json.Unmarshal(raw, &jdoc); err != nil {
		return fmt.Errorf("failed to convert poses: %w", err)
	}

	if err := poseSchema.Validate(jdoc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
