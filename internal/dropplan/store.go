package dropplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

const defaultCacheSize = 64

// FileStore keeps the drop plan document in a JSON file. Loaded plans are
// cached until the document changes.
type FileStore struct {
	path string
	log  logging.Logger

	mu    sync.Mutex
	cache *lru.Cache[weapon.DropPlanRef, Plan]
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) StoreOption {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// Open returns a store backed by path, creating an empty document there if
// the file does not exist.
func Open(path string, opts ...StoreOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("drop plan path is empty")
	}
	cache, err := lru.New[weapon.DropPlanRef, Plan](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	s := &FileStore{path: path, log: logging.Noop(), cache: cache}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(EmptyDocument()); err != nil {
			return nil, fmt.Errorf("create drop plan file: %w", err)
		}
		s.log.Info(context.Background(), "created empty drop plan file", logging.String("path", path))
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load returns the plan selected by ref.
func (s *FileStore) Load(ctx context.Context, ref weapon.DropPlanRef) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	if !ref.Valid() {
		return Plan{}, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache.Get(ref); ok {
		return clonePlan(p), nil
	}
	doc, err := s.read()
	if err != nil {
		return Plan{}, err
	}
	p := doc.Lists[ref.List-1].Plans[ref.Number-1]
	if !p.Exists() {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, ref)
	}
	s.cache.Add(ref, p)
	return clonePlan(p), nil
}

// SetState records the plan state for ref and persists the document.
func (s *FileStore) SetState(ctx context.Context, ref weapon.DropPlanRef, state PlanState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ref.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	slot := &doc.Lists[ref.List-1].Plans[ref.Number-1]
	if !slot.Exists() {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, ref)
	}
	if slot.State == state {
		return nil
	}
	slot.State = state
	if err := s.write(doc); err != nil {
		return err
	}
	s.cache.Remove(ref)
	return nil
}

// Document returns the whole stored document.
func (s *FileStore) Document(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save replaces the stored document with an edited plan list.
func (s *FileStore) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(doc.normalized()); err != nil {
		return err
	}
	s.cache.Purge()
	s.log.Info(ctx, "saved drop plan document", logging.String("path", s.path), logging.Int("lists", len(doc.Lists)))
	return nil
}

func (s *FileStore) read() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, fmt.Errorf("read drop plans: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse drop plans %s: %w", s.path, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc.normalized(), nil
}

// write replaces the file atomically via a temporary sibling.
func (s *FileStore) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func clonePlan(p Plan) Plan {
	p.Waypoints = append([]Point(nil), p.Waypoints...)
	return p
}
