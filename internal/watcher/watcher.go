package watcher

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/hashcache"
	"github.com/wangdangel/augmentorium/internal/ignore"
	"github.com/wangdangel/augmentorium/internal/pipeline"
)

// Watcher observes one project's filesystem, filters events through the
// ignore matcher, consults the hash cache, and enqueues IndexTasks.
type Watcher struct {
	project    string
	root       string
	dataDir    string
	ignoreFile string
	cfg        *config.Config
	pipe       *pipeline.Pipeline
	hashes     *hashcache.Cache

	matcher atomic.Pointer[ignore.Matcher]

	fsw *fsnotify.Watcher

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher for the project rooted at root. dataDir is the
// project's hidden data directory holding the per-project ignore file.
func New(project, root, dataDir string, cfg *config.Config, pipe *pipeline.Pipeline, hashes *hashcache.Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		project:    project,
		root:       root,
		dataDir:    dataDir,
		ignoreFile: filepath.Join(dataDir, "ignore"),
		cfg:        cfg,
		pipe:       pipe,
		hashes:     hashes,
		fsw:        fsw,
		debounce:   make(map[string]*time.Timer),
		stop:       make(chan struct{}),
	}
	w.reloadMatcher()
	return w, nil
}

// reloadMatcher rebuilds the immutable ignore snapshot from configuration
// plus the per-project ignore file.
func (w *Watcher) reloadMatcher() {
	patterns := append([]string(nil), w.cfg.Indexer.IgnorePatterns...)
	projectPatterns, err := ignore.LoadFile(w.ignoreFile)
	if err != nil {
		log.Printf("[WARN] Failed to read ignore file for %s: %v", w.project, err)
	}
	patterns = append(patterns, projectPatterns...)
	w.matcher.Store(ignore.NewMatcher(patterns, w.cfg.Indexer.BinaryExtensions))
}

// Start performs the reconciliation scan, then enters event mode with the
// polling fallback ticker.
func (w *Watcher) Start() error {
	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}
	// The data dir is excluded from indexing but its ignore file is watched
	// so pattern edits take effect without a restart
	if err := w.fsw.Add(w.dataDir); err != nil {
		log.Printf("[WARN] Unable to watch data dir %s: %v", w.dataDir, err)
	}

	w.Reconcile()

	w.wg.Add(1)
	go w.eventLoop()
	log.Printf("Watcher started for project %s at %s", w.project, w.root)
	return nil
}

// Stop terminates the event loop and pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.wg.Wait()

	w.debounceMu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.debounce = make(map[string]*time.Timer)
	w.debounceMu.Unlock()
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := w.relPath(path)
		if rerr != nil {
			return nil
		}
		if rel != "." && w.matcher.Load().IsIgnored(rel, true) {
			return filepath.SkipDir
		}
		if werr := w.fsw.Add(path); werr != nil {
			log.Printf("[WARN] Unable to watch %s: %v", path, werr)
		}
		return nil
	})
}

func (w *Watcher) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Reconcile compares the filesystem with the hash cache: unknown or changed
// files enqueue upserts in directory order, cached paths missing on disk
// enqueue deletes.
func (w *Watcher) Reconcile() {
	matcher := w.matcher.Load()
	seen := make(map[string]struct{})

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := w.relPath(path)
		if rerr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.IsIgnored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.IsIgnored(rel, false) {
			return nil
		}
		if !w.insideRoot(path, d) {
			return nil
		}

		seen[rel] = struct{}{}
		hash, herr := w.hashes.HashFile(path)
		if herr != nil {
			return nil
		}
		if !w.hashes.Seen(rel, hash) {
			w.enqueue(pipeline.NewTask(w.project, rel, pipeline.TaskUpsert, hash))
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] Reconciliation scan failed for %s: %v", w.project, err)
	}

	for rel := range w.hashes.Snapshot() {
		if _, onDisk := seen[rel]; !onDisk {
			w.enqueue(pipeline.NewTask(w.project, rel, pipeline.TaskDelete, ""))
		}
	}
}

// ForceRescan enqueues an upsert for every non-ignored file, regardless of
// the hash cache. Used by explicit reindex requests.
func (w *Watcher) ForceRescan() {
	matcher := w.matcher.Load()
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := w.relPath(path)
		if rerr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.IsIgnored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.IsIgnored(rel, false) || !w.insideRoot(path, d) {
			return nil
		}
		hash, herr := w.hashes.HashFile(path)
		if herr != nil {
			return nil
		}
		w.enqueue(pipeline.NewTask(w.project, rel, pipeline.TaskUpsert, hash))
		return nil
	})
}

// insideRoot rejects symlinks that resolve outside the project root.
func (w *Watcher) insideRoot(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return true
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	rootResolved, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		rootResolved = w.root
	}
	return strings.HasPrefix(resolved, rootResolved+string(os.PathSeparator))
}

func (w *Watcher) enqueue(task pipeline.Task) {
	if err := w.pipe.Enqueue(task); err != nil {
		log.Printf("[WARN] Dropping task for %s/%s: %v", task.Project, task.RelPath, err)
	}
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	defer w.fsw.Close()

	interval := w.cfg.Indexer.PollingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[ERROR] Watcher error for %s: %v", w.project, err)

		case <-ticker.C:
			// Fallback scan catches anything native events missed
			w.Reconcile()

		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Chmod events carry no content change
	if event.Op == fsnotify.Chmod {
		return
	}

	path := filepath.Clean(event.Name)

	// Edits to the per-project ignore file swap in a fresh matcher snapshot
	if path == w.ignoreFile {
		w.reloadMatcher()
		return
	}
	if strings.HasPrefix(path, w.dataDir+string(os.PathSeparator)) || path == w.dataDir {
		return
	}

	rel, err := w.relPath(path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	// New directories join the watch set immediately
	if event.Op&fsnotify.Create != 0 {
		if info, serr := os.Stat(path); serr == nil && info.IsDir() {
			if !w.matcher.Load().IsIgnored(rel, true) {
				if werr := w.addWatchesRecursive(path); werr != nil {
					log.Printf("[WARN] Unable to watch new dir %s: %v", path, werr)
				}
				// Files created before the watch was added surface here
				w.scheduleScan(path)
			}
			return
		}
	}

	if w.matcher.Load().IsIgnored(rel, false) {
		return
	}

	w.coalesce(rel)
}

// coalesce debounces repeated events per path within the configured window;
// the last event wins.
func (w *Watcher) coalesce(rel string) {
	window := w.cfg.Indexer.DebounceWindow
	if window <= 0 {
		window = 250 * time.Millisecond
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounce[rel]; ok {
		timer.Stop()
	}
	w.debounce[rel] = time.AfterFunc(window, func() {
		w.debounceMu.Lock()
		delete(w.debounce, rel)
		w.debounceMu.Unlock()
		w.fire(rel)
	})
}

// fire inspects the path's current state and emits the task it warrants.
// Moves surface as a remove for the old path and a create for the new one,
// which decomposes naturally into delete + upsert.
func (w *Watcher) fire(rel string) {
	select {
	case <-w.stop:
		return
	default:
	}

	absPath := filepath.Join(w.root, filepath.FromSlash(rel))
	info, err := os.Stat(absPath)
	if err != nil {
		if _, tracked := w.hashes.Get(rel); tracked {
			w.enqueue(pipeline.NewTask(w.project, rel, pipeline.TaskDelete, ""))
		}
		return
	}
	if info.IsDir() {
		return
	}
	if linfo, lerr := os.Lstat(absPath); lerr != nil || !w.insideRoot(absPath, fs.FileInfoToDirEntry(linfo)) {
		return
	}

	hash, err := w.hashes.HashFile(absPath)
	if err != nil {
		return
	}
	if w.hashes.Seen(rel, hash) {
		return
	}
	w.enqueue(pipeline.NewTask(w.project, rel, pipeline.TaskUpsert, hash))
}

// scheduleScan walks a newly created directory after a short delay so files
// written during the race with watch registration are picked up.
func (w *Watcher) scheduleScan(dir string) {
	time.AfterFunc(w.cfg.Indexer.DebounceWindow+50*time.Millisecond, func() {
		matcher := w.matcher.Load()
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, rerr := w.relPath(path)
			if rerr != nil {
				return nil
			}
			if matcher.IsIgnored(rel, false) {
				return nil
			}
			w.fire(rel)
			return nil
		})
	})
}
