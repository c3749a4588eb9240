package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/golemcloud/golem-sub031/pkg/log"
)

// AssignmentFile is the on-disk form read by FileSource. YAML and JSON are
// both accepted.
type AssignmentFile struct {
	NumberOfShards int  `yaml:"numberOfShards" json:"numberOfShards"`
	ShardIDs       []ID `yaml:"shardIds" json:"shardIds"`
}

// ReadAssignmentFile parses path into an Assignment.
func ReadAssignmentFile(path string) (Assignment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Assignment{}, err
	}
	var f AssignmentFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Assignment{}, fmt.Errorf("parse shard assignment %s: %w", path, err)
	}
	if f.NumberOfShards <= 0 {
		return Assignment{}, fmt.Errorf("shard assignment %s: numberOfShards must be positive", path)
	}
	for _, id := range f.ShardIDs {
		if id < 0 || int(id) >= f.NumberOfShards {
			return Assignment{}, fmt.Errorf("shard assignment %s: shard %d out of range", path, id)
		}
	}
	return NewAssignment(f.NumberOfShards, f.ShardIDs...), nil
}

// FileSource publishes the assignment stored in a file into a Manager and
// re-publishes whenever the file changes.
type FileSource struct {
	path     string
	manager  *Manager
	logger   log.Logger
	debounce time.Duration
}

// NewFileSource watches path on behalf of m.
func NewFileSource(path string, m *Manager, logger log.Logger) *FileSource {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &FileSource{path: path, manager: m, logger: logger.With(log.Component("shard-source")), debounce: 50 * time.Millisecond}
}

// Load reads the file once and publishes it.
func (s *FileSource) Load() error {
	a, err := ReadAssignmentFile(s.path)
	if err != nil {
		return err
	}
	s.manager.Update(a)
	s.logger.Info("shard assignment loaded", log.Int("number_of_shards", a.NumberOfShards), log.Any("shard_ids", a.Sorted()))
	return nil
}

// Run loads the file and then watches it until ctx is done. The parent
// directory is watched so atomic replace-by-rename is observed.
func (s *FileSource) Run(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("shard file watcher closed")
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := s.Load(); err != nil {
				s.logger.Warn("ignoring invalid shard assignment", log.Err(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("shard file watcher closed")
			}
			s.logger.Warn("shard file watcher error", log.Err(err))
		}
	}
}
