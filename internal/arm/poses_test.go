package arm

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPoseLibraryDefaults(t *testing.T) {
	lib := NewPoseLibrary()

	home, err := lib.Get(PoseHome)
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if !reflect.DeepEqual(home.Angles, []int{90, 90, 65, 90, 90, 90, 80}) {
		t.Fatalf("home = %v", home.Angles)
	}

	// Get hands out copies.
	home.Angles[0] = 0
	again, _ := lib.Get(PoseHome)
	if again.Angles[0] != 90 {
		t.Fatalf("library mutated through Get")
	}

	names := []string{}
	for _, p := range lib.List() {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"home", "reset"}) {
		t.Fatalf("names = %v", names)
	}
}

func TestLoadPoseFile(t *testing.T) {
	doc := `poses:
  - name: home
    description: parked over the tray
    angles: [90, 100, 60, 90, 90, 90, 80]
  - name: pick-left
    angles: [30, 110, 45, 90, 90, 90, 80]
`
	path := filepath.Join(t.TempDir(), "poses.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := LoadPoseFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	home, _ := lib.Get(PoseHome)
	if home.Angles[1] != 100 || home.Description != "parked over the tray" {
		t.Fatalf("home not overridden: %+v", home)
	}
	if _, err := lib.Get("pick-left"); err != nil {
		t.Fatalf("pick-left: %v", err)
	}
	if _, err := lib.Get(PoseReset); err != nil {
		t.Fatalf("reset default lost: %v", err)
	}
}

func TestPoseValidation(t *testing.T) {
	cases := map[string]string{
		"six angles":  "poses:\n  - name: a\n    angles: [1, 2, 3, 4, 5, 6]\n",
		"angle 181":   "poses:\n  - name: a\n    angles: [181, 2, 3, 4, 5, 6, 7]\n",
		"no name":     "poses:\n  - angles: [1, 2, 3, 4, 5, 6, 7]\n",
		"bad name":    "poses:\n  - name: Has Space\n    angles: [1, 2, 3, 4, 5, 6, 7]\n",
		"unknown key": "poses:\n  - name: a\n    speed: 3\n    angles: [1, 2, 3, 4, 5, 6, 7]\n",
		"not a list":  "poses: home\n",
		"broken yaml": "poses: [\n",
		"duplicate":   "poses:\n  - name: a\n    angles: [1, 2, 3, 4, 5, 6, 7]\n  - name: a\n    angles: [1, 2, 3, 4, 5, 6, 7]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			lib := NewPoseLibrary()
			if err := lib.Load([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
			if len(lib.List()) != 2 {
				t.Fatalf("invalid document changed the library")
			}
		})
	}
}

func TestLoadPoseFileMissing(t *testing.T) {
	_, err := LoadPoseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}
