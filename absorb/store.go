package absorb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"attenuator-go/errcode"
)

// Store loads .nff scattering-factor tables from a directory and caches
// them per formula. Edits to table files on disk invalidate the cached
// entry, so a corrected table is picked up on the next solve without a
// restart.
type Store struct {
	dir     string
	log     *zap.Logger
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	tables map[string]*Table
}

// NewStore opens a table store over dir. The directory must exist.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("absorb: tables dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("absorb: %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("absorb: watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("absorb: watch %s: %w", dir, err)
	}

	return &Store{
		dir:     dir,
		log:     log,
		watcher: watcher,
		tables:  map[string]*Table{},
	}, nil
}

func (s *Store) Close() error { return s.watcher.Close() }

// Run services filesystem events until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate(ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("table watcher error", zap.Error(err))
		}
	}
}

func (s *Store) invalidate(path string) {
	base := strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(base, ".nff") {
		return
	}
	name := strings.TrimSuffix(base, ".nff")

	s.mu.Lock()
	defer s.mu.Unlock()
	for formula := range s.tables {
		if strings.ToLower(formula) == name {
			delete(s.tables, formula)
			s.log.Info("absorption table invalidated", zap.String("material", formula))
		}
	}
}

// Table returns the absorption table for a formula, loading and caching it
// on first use.
func (s *Store) Table(formula string) (*Table, error) {
	s.mu.RLock()
	t, ok := s.tables[formula]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := s.load(formula)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tables[formula] = t
	s.mu.Unlock()
	s.log.Info("absorption table loaded",
		zap.String("material", formula),
		zap.Int("rows", len(t.Rows)))
	return t, nil
}

func (s *Store) load(formula string) (*Table, error) {
	density, atomicWeight, err := MaterialProperties(formula)
	if err != nil {
		return nil, &errcode.E{C: errcode.NoTable, Op: "absorb.load", Msg: err.Error(), Err: err}
	}

	path := filepath.Join(s.dir, strings.ToLower(formula)+".nff")
	energies, f2, err := parseNFF(path)
	if err != nil {
		return nil, &errcode.E{C: errcode.NoTable, Op: "absorb.load", Msg: err.Error(), Err: err}
	}

	return BuildTable(formula, energies, f2, density, atomicWeight)
}

// parseNFF reads a CXRO-style .nff file: an optional header line followed
// by rows of "energy_eV f1 f2".
func parseNFF(path string) (energies, f2 []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		ev, errE := strconv.ParseFloat(fields[0], 64)
		if errE != nil {
			if line == 1 {
				continue // header
			}
			return nil, nil, fmt.Errorf("%s:%d: %w", path, line, errE)
		}
		if len(fields) < 3 {
			return nil, nil, fmt.Errorf("%s:%d: expected 3 columns, got %d", path, line, len(fields))
		}
		fv, errF := strconv.ParseFloat(fields[2], 64)
		if errF != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, line, errF)
		}
		energies = append(energies, ev)
		f2 = append(f2, fv)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(energies) == 0 {
		return nil, nil, fmt.Errorf("%s: no data rows", path)
	}
	return energies, f2, nil
}
