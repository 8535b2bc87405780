package specialist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// File is the YAML document of additional specialists and skills.
type File struct {
	Specialists []specialist.Entry     `yaml:"specialists"`
	Skills      []specialist.Extension `yaml:"skills"`
}

// ReadFile parses a specialist file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("read specialist file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse specialist file: %w", err)
	}
	return &f, nil
}

// LoadFile registers every entry and skill in the file. Invalid entries are
// reported together; valid ones are still registered.
func (r *Registry) LoadFile(path string) error {
	f, err := ReadFile(path)
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range f.Specialists {
		if err := r.Register(e); err != nil {
			errs = append(errs, fmt.Errorf("specialist %q: %w", e.Role, err))
		}
	}
	for _, s := range f.Skills {
		if s.ID == "" {
			errs = append(errs, errors.New("skill without id"))
			continue
		}
		r.RegisterSkill(s)
	}

	logging.Info().
		Add(logging.Component("specialist")).
		Add(logging.Str("file", path)).
		Add(logging.Count(len(f.Specialists))).
		Msg("loaded specialist file")
	return errors.Join(errs...)
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (r *Registry) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if err := r.LoadFile(abs); err != nil {
					logging.Warn().
						Add(logging.Component("specialist")).
						Add(logging.ErrorField(err)).
						Msg("specialist reload failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().
					Add(logging.Component("specialist")).
					Add(logging.ErrorField(err)).
					Msg("specialist watcher error")
			}
		}
	}()
	return nil
}
