package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wangdangel/augmentorium/internal/chunker"
	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/embedding"
	"github.com/wangdangel/augmentorium/internal/graph"
	"github.com/wangdangel/augmentorium/internal/parser"
	"github.com/wangdangel/augmentorium/internal/pipeline"
	"github.com/wangdangel/augmentorium/internal/query"
)

// Sentinel errors surfaced to collaborators.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project already registered")
	ErrProjectDisabled = errors.New("project is disabled; reinitialize to recover")
	ErrRootOverlap     = errors.New("project roots overlap")
)

// Engine owns the project registry and the shared indexing infrastructure:
// the parser pool, the worker pool, the embedding semaphore, and the query
// planner. The HTTP layer wraps its programmatic operations.
type Engine struct {
	cfg       *config.Config
	pool      *pipeline.Pool
	parsers   *parser.Pool
	chunker   *chunker.Chunker
	extractor *graph.Extractor
	sem       *semaphore.Weighted
	planner   *query.Planner

	mu       sync.RWMutex
	projects map[string]*Project
}

// New creates the engine and opens every project from the configuration's
// registry. A project that fails to open is logged and skipped.
func New(cfg *config.Config) (*Engine, error) {
	parsers := parser.NewPool()
	e := &Engine{
		cfg:       cfg,
		pool:      pipeline.NewPool(cfg.Indexer.MaxWorkers),
		parsers:   parsers,
		chunker:   chunker.New(cfg, parsers),
		extractor: graph.NewExtractor(parsers),
		sem:       embedding.NewSemaphore(cfg.Embedding.MaxInFlight),
		projects:  make(map[string]*Project),
	}

	plannerEmbedder, err := embedding.NewEmbedder(cfg.Embedding, e.sem, nil)
	if err != nil {
		return nil, err
	}
	e.planner = query.NewPlanner(cfg.Query, plannerEmbedder)

	for name, root := range cfg.Projects {
		if err := e.AddProject(name, root); err != nil {
			log.Printf("[ERROR] Failed to open project %s at %s: %v", name, root, err)
		}
	}
	return e, nil
}

// Close stops every project's watcher and pipeline and closes the stores.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.projects {
		p.closeResources()
	}
	e.projects = make(map[string]*Project)
}

// AddProject registers a project, creates its data directory, and starts
// watching. Overlapping roots are rejected.
func (e *Engine) AddProject(name, root string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid project path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("project path is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", absRoot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.projects[name]; exists {
		return fmt.Errorf("%w: %s", ErrProjectExists, name)
	}
	for other, p := range e.projects {
		if pathsOverlap(absRoot, p.Root) {
			return fmt.Errorf("%w: %s and %s", ErrRootOverlap, absRoot, other)
		}
	}

	project, err := e.openProject(name, absRoot)
	if err != nil {
		return err
	}
	e.projects[name] = project
	if project.disabled != nil {
		log.Printf("[ERROR] Project %s is disabled: %v", name, project.disabled)
	} else {
		log.Printf("Project %s registered at %s", name, absRoot)
	}
	return nil
}

// RemoveProject stops the project and destroys its data directory.
func (e *Engine) RemoveProject(name string) error {
	e.mu.Lock()
	project, ok := e.projects[name]
	if ok {
		delete(e.projects, name)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}

	project.closeResources()
	if err := eraseDataDir(project.DataDir); err != nil {
		return err
	}
	log.Printf("Project %s removed", name)
	return nil
}

// ReinitializeProject erases the project's data directory and rebuilds it
// from a fresh scan. This is also the recovery path for disabled projects.
func (e *Engine) ReinitializeProject(name string) error {
	e.mu.Lock()
	project, ok := e.projects[name]
	if ok {
		delete(e.projects, name)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}

	root := project.Root
	project.closeResources()
	if err := eraseDataDir(project.DataDir); err != nil {
		return err
	}
	return e.AddProject(name, root)
}

// ProjectInfo is the registry view returned by ListProjects.
type ProjectInfo struct {
	Name     string `json:"name"`
	Root     string `json:"root"`
	DataDir  string `json:"data_dir"`
	Disabled bool   `json:"disabled"`
}

// ListProjects returns the registered projects sorted by name.
func (e *Engine) ListProjects() []ProjectInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]ProjectInfo, 0, len(e.projects))
	for _, p := range e.projects {
		infos = append(infos, ProjectInfo{
			Name:     p.Name,
			Root:     p.Root,
			DataDir:  p.DataDir,
			Disabled: p.disabled != nil,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// TriggerReindex enqueues upserts for every non-ignored file in the project.
func (e *Engine) TriggerReindex(name string) error {
	project, err := e.activeProject(name)
	if err != nil {
		return err
	}
	go project.watch.ForceRescan()
	return nil
}

// Query runs the planner against the project's stores. Results are
// best-effort while indexing is in progress; the response says so.
func (e *Engine) Query(ctx context.Context, name, text string, opts query.Options) (*query.Result, error) {
	project, err := e.activeProject(name)
	if err != nil {
		return nil, err
	}

	snap := project.pipe.Status().Snapshot()
	epoch := fmt.Sprintf("%s|%d|%d|%d", name, snap.LastCommitTS, snap.Queued, snap.InFlight)

	result, err := e.planner.Query(ctx, project.vectors, project.graph, text, opts, epoch)
	if err != nil {
		return nil, err
	}
	result.IndexingInProgress = snap.Queued > 0 || snap.InFlight > 0
	return result, nil
}

// GraphNeighbors returns 1-hop neighbors of a node.
func (e *Engine) GraphNeighbors(ctx context.Context, name, nodeID string) ([]graph.Neighbor, error) {
	project, err := e.activeProject(name)
	if err != nil {
		return nil, err
	}
	return project.graph.Neighbors(ctx, nodeID, "both", nil)
}

// GraphSearchNodes finds nodes by name or path substring.
func (e *Engine) GraphSearchNodes(ctx context.Context, name, substring string) ([]graph.Node, error) {
	project, err := e.activeProject(name)
	if err != nil {
		return nil, err
	}
	return project.graph.SearchNodes(ctx, substring, nil)
}

// GraphSearchEdges finds edges by endpoint name or relation substring.
func (e *Engine) GraphSearchEdges(ctx context.Context, name, substring string) ([]graph.EdgeHit, error) {
	project, err := e.activeProject(name)
	if err != nil {
		return nil, err
	}
	return project.graph.SearchEdges(ctx, substring)
}

// IndexerStatus returns pipeline counters for one project, or all of them
// when name is empty.
func (e *Engine) IndexerStatus(name string) (map[string]pipeline.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]pipeline.Snapshot)
	if name != "" {
		p, ok := e.projects[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
		}
		if p.disabled != nil {
			return nil, fmt.Errorf("%w: %s", ErrProjectDisabled, name)
		}
		out[name] = p.pipe.Status().Snapshot()
		return out, nil
	}
	for n, p := range e.projects {
		if p.disabled != nil {
			continue
		}
		out[n] = p.pipe.Status().Snapshot()
	}
	return out, nil
}

// WaitForQuiescence blocks until the project has no pending or in-flight
// tasks, or the context expires.
func (e *Engine) WaitForQuiescence(ctx context.Context, name string) error {
	project, err := e.activeProject(name)
	if err != nil {
		return err
	}
	// Give the watcher's debounce a chance to flush before sampling
	timer := time.NewTimer(2 * e.cfg.Indexer.DebounceWindow)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
	return project.pipe.WaitIdle(ctx)
}

func (e *Engine) activeProject(name string) (*Project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	project, ok := e.projects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	if project.disabled != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectDisabled, name, project.disabled)
	}
	return project, nil
}

// pathsOverlap reports whether either path contains the other.
func pathsOverlap(a, b string) bool {
	a = strings.TrimSuffix(a, string(os.PathSeparator))
	b = strings.TrimSuffix(b, string(os.PathSeparator))
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+string(os.PathSeparator)) ||
		strings.HasPrefix(b, a+string(os.PathSeparator))
}
