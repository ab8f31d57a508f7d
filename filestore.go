package scenemix

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore is a SceneStore backed by a YAML file. The file is parsed once
// at construction and hot-reloaded whenever it changes on disk. A reload
// that fails to parse or validate keeps the last good catalog and logs the
// problem, so an editing mistake never takes scenes away from a running
// mixer.
//
// Expected document shape:
//
//	scenes:
//	  - id: interview
//	    slots:
//	      - source: cam-a
//	        x: 0.0
//	        y: 0.0
//	        w: 0.5
//	        h: 1.0
//	        z: 1
//
// alpha defaults to 1.0 when omitted.
type FileStore struct {
	path    string
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	scenes map[string]Scene

	done     chan struct{}
	stopOnce sync.Once
}

type fileSceneDoc struct {
	Scenes []fileScene `yaml:"scenes"`
}

type fileScene struct {
	ID    string     `yaml:"id"`
	Slots []fileSlot `yaml:"slots"`
}

type fileSlot struct {
	Source string   `yaml:"source"`
	X      float64  `yaml:"x"`
	Y      float64  `yaml:"y"`
	W      float64  `yaml:"w"`
	H      float64  `yaml:"h"`
	Alpha  *float64 `yaml:"alpha"`
	Z      int      `yaml:"z"`
	Muted  bool     `yaml:"muted"`
}

// NewFileStore loads the catalog file and starts watching it for changes.
// Construction fails if the initial load does not parse and validate.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("scenemix: filestore requires a path")
	}
	s := &FileStore{
		path: path,
		done: make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scenemix: failed to create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config pushes replace
	// the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("scenemix: failed to watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher
	go s.watch()

	slog.Info("scenemix: scene catalog loaded", "path", path, "scenes", s.count())
	return s, nil
}

// Reload re-reads the catalog file immediately. On error the previously
// loaded scenes stay in effect.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("scenemix: failed to read catalog %s: %w", s.path, err)
	}
	scenes, err := parseCatalog(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.scenes = scenes
	s.mu.Unlock()
	return nil
}

func parseCatalog(data []byte) (map[string]Scene, error) {
	var doc fileSceneDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("scenemix: failed to parse catalog: %w", err)
	}
	scenes := make(map[string]Scene, len(doc.Scenes))
	for _, fs := range doc.Scenes {
		scene := Scene{ID: fs.ID, Slots: make([]Slot, 0, len(fs.Slots))}
		for _, sl := range fs.Slots {
			alpha := 1.0
			if sl.Alpha != nil {
				alpha = *sl.Alpha
			}
			scene.Slots = append(scene.Slots, Slot{
				SourceID: sl.Source,
				X:        sl.X,
				Y:        sl.Y,
				W:        sl.W,
				H:        sl.H,
				Alpha:    alpha,
				Z:        sl.Z,
				Muted:    sl.Muted,
			})
		}
		if err := ValidateScene(scene); err != nil {
			return nil, err
		}
		if _, dup := scenes[scene.ID]; dup {
			return nil, &ValidationError{
				SceneID: scene.ID,
				Reason:  "scene id defined more than once",
			}
		}
		scenes[scene.ID] = scene
	}
	return scenes, nil
}

func (s *FileStore) watch() {
	base := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("scenemix: catalog reload failed, keeping previous scenes",
					"path", s.path, "error", err)
				continue
			}
			slog.Info("scenemix: catalog reloaded", "path", s.path, "scenes", s.count())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("scenemix: catalog watcher error", "error", err)
		}
	}
}

func (s *FileStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenes)
}

// Get returns the scene for id from the last good load.
func (s *FileStore) Get(_ context.Context, id string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[id]
	if !ok {
		return Scene{}, fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	return scene.clone(), nil
}

// List returns all scene ids from the last good load, sorted.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scenes))
	for id := range s.scenes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close stops the file watcher. Safe to call more than once.
func (s *FileStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
