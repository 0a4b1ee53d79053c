package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wangdangel/augmentorium/internal/chunker"
	"github.com/wangdangel/augmentorium/internal/embedding"
	"github.com/wangdangel/augmentorium/internal/graph"
	"github.com/wangdangel/augmentorium/internal/hashcache"
	"github.com/wangdangel/augmentorium/internal/utils"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
)

// errEmbed marks failures that came out of the embedder, whose retry hook
// has already accounted for them in the status counters.
var errEmbed = errors.New("embedding failed")

// Pool is the fixed-size worker pool shared by every project's pipeline.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with the given number of worker slots.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// Resources are the per-project stores and helpers the pipeline writes to.
type Resources struct {
	Project       string
	Root          string
	Chunker       *chunker.Chunker
	Extractor     *graph.Extractor
	Vectors       vectorstore.Store
	Graph         *graph.Store
	Hashes        *hashcache.Cache
	HashAlgorithm string
}

// Pipeline consumes IndexTasks for one project. Tasks for the same file are
// serialized; tasks for different files proceed in parallel up to the shared
// worker bound.
type Pipeline struct {
	res      Resources
	embedder embedding.Embedder
	pool     *Pool
	status   *Status

	queue chan Task

	mu         sync.Mutex
	gens       map[string]uint64             // path -> latest generation
	cancels    map[string]context.CancelFunc // path -> in-flight cancel
	fileLocks  map[string]*sync.Mutex
	failedHash map[string]string // path -> content hash of last permanent failure

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the pipeline for a project and starts its dispatcher. status
// may be shared with the embedder's transient-error hook; pass nil to let
// the pipeline allocate its own.
func New(res Resources, embedder embedding.Embedder, pool *Pool, queueSize int, status *Status) *Pipeline {
	if queueSize <= 0 {
		queueSize = 256
	}
	if status == nil {
		status = &Status{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		res:        res,
		embedder:   embedder,
		pool:       pool,
		status:     status,
		queue:      make(chan Task, queueSize),
		gens:       make(map[string]uint64),
		cancels:    make(map[string]context.CancelFunc),
		fileLocks:  make(map[string]*sync.Mutex),
		failedHash: make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.wg.Add(1)
	go p.dispatch()
	return p
}

// Status returns the project's pipeline counters.
func (p *Pipeline) Status() *Status {
	return p.status
}

// Enqueue submits a task, blocking while the queue is full. A newer task for
// a path supersedes any queued or in-flight task for the same path.
func (p *Pipeline) Enqueue(task Task) error {
	p.mu.Lock()
	p.gens[task.RelPath]++
	task.Generation = p.gens[task.RelPath]
	if cancel, ok := p.cancels[task.RelPath]; ok {
		// Abandon the in-flight embedding for the superseded task
		cancel()
	}
	p.mu.Unlock()

	p.status.queued.Add(1)
	select {
	case p.queue <- task:
		return nil
	case <-p.ctx.Done():
		p.status.queued.Add(-1)
		return fmt.Errorf("pipeline for %s is shut down", p.res.Project)
	}
}

// Close stops the dispatcher and waits for in-flight tasks.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// WaitIdle blocks until no tasks are pending or in flight, or ctx expires.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.status.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) dispatch() {
	defer p.wg.Done()
	var tasks sync.WaitGroup
	defer tasks.Wait()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			select {
			case p.pool.slots <- struct{}{}:
			case <-p.ctx.Done():
				p.status.queued.Add(-1)
				return
			}
			tasks.Add(1)
			go func(t Task) {
				defer tasks.Done()
				defer func() { <-p.pool.slots }()
				p.status.queued.Add(-1)
				p.status.inFlight.Add(1)
				defer p.status.inFlight.Add(-1)
				p.process(t)
			}(task)
		}
	}
}

// superseded reports whether a newer task for the path has been enqueued.
func (p *Pipeline) superseded(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[task.RelPath] != task.Generation
}

func (p *Pipeline) fileLock(relPath string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.fileLocks[relPath]
	if !ok {
		lock = &sync.Mutex{}
		p.fileLocks[relPath] = lock
	}
	return lock
}

func (p *Pipeline) process(task Task) {
	lock := p.fileLock(task.RelPath)
	lock.Lock()
	defer lock.Unlock()

	if p.superseded(task) {
		return
	}

	var err error
	switch task.Kind {
	case TaskUpsert:
		err = p.processUpsert(task)
	case TaskDelete:
		err = p.processDelete(task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil {
		if errors.Is(err, embedding.ErrBatchRejected) {
			p.status.permanent.Add(1)
			p.mu.Lock()
			p.failedHash[task.RelPath] = task.Hash
			p.mu.Unlock()
			log.Printf("[ERROR] Permanent indexing failure for %s/%s: %v", task.Project, task.RelPath, err)
			return
		}
		if errors.Is(err, context.Canceled) {
			// Superseded mid-flight; the newer task owns the file now
			return
		}
		// Embedding transport failures are counted per attempt by the
		// embedder's retry hook; counting them again here would report
		// attempts+1 for one exhausted task
		if !errors.Is(err, errEmbed) {
			p.status.transient.Add(1)
		}
		log.Printf("[ERROR] Indexing failed for %s/%s: %v", task.Project, task.RelPath, err)
	}
}

// processUpsert runs parse -> chunk -> extract -> embed, then commits both
// stores and the hash cache under the file lock. The hash cache is written
// last so startup reconciliation can detect a partial commit.
func (p *Pipeline) processUpsert(task Task) error {
	absPath := filepath.Join(p.res.Root, filepath.FromSlash(task.RelPath))

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The file vanished between the event and now; the watcher's
			// delete event will clean up
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", absPath, err)
	}

	hash, err := hashcache.HashBytes(content, p.res.HashAlgorithm)
	if err != nil {
		return err
	}
	if task.Hash != "" && task.Hash != hash {
		// Content moved on since the event fired; the newer event supersedes
		return nil
	}

	p.mu.Lock()
	if p.failedHash[task.RelPath] == hash && hash != "" {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	chunks := p.res.Chunker.ChunkFile(task.Project, task.RelPath, content)
	language := p.res.Chunker.Language(task.RelPath)
	nodes, edges := p.res.Extractor.ExtractFile(task.RelPath, language, content)

	// Cancellation scope for the embedding call: superseding tasks abandon it
	embedCtx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.cancels[task.RelPath] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		if p.cancels[task.RelPath] != nil {
			delete(p.cancels, task.RelPath)
		}
		p.mu.Unlock()
	}()

	embedded := make([]vectorstore.EmbeddedChunk, 0, len(chunks))
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := p.embedder.Embed(embedCtx, texts)
		if err != nil {
			return fmt.Errorf("%w: %w", errEmbed, err)
		}
		for i, ch := range chunks {
			embedded = append(embedded, vectorstore.EmbeddedChunk{
				Chunk:   ch,
				Vector:  vectors[i],
				ModelID: p.embedder.ModelID(),
			})
		}
	}

	// A late-returning embed call must not commit for a superseded task
	if p.superseded(task) {
		return nil
	}

	info, statErr := os.Stat(absPath)
	record := hashcache.Record{Hash: hash, Size: int64(len(content))}
	if statErr == nil {
		record.Size = info.Size()
		record.MTimeNS = info.ModTime().UnixNano()
	}

	return p.commit(task, embedded, nodes, edges, record)
}

// commit performs the transactional per-file write: vector delete + upsert,
// graph diff, then the hash cache. Transient store errors retry with backoff.
func (p *Pipeline) commit(task Task, embedded []vectorstore.EmbeddedChunk, nodes []graph.Node, edges []graph.Edge, record hashcache.Record) error {
	ctx := p.ctx

	staleNodes, err := p.res.Graph.NodesByFile(ctx, task.RelPath)
	if err != nil {
		return fmt.Errorf("failed to list graph nodes for %s: %w", task.RelPath, err)
	}
	keep := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		keep[n.ID] = struct{}{}
	}
	removeNodes := staleNodes[:0:0]
	for _, id := range staleNodes {
		if _, ok := keep[id]; !ok {
			removeNodes = append(removeNodes, id)
		}
	}

	err = utils.Retry(ctx, 3, 50*time.Millisecond, func() error {
		if err := p.res.Vectors.DeleteByPath(ctx, task.RelPath); err != nil {
			return fmt.Errorf("vector delete failed: %w", err)
		}
		if err := p.res.Vectors.UpsertMany(ctx, embedded); err != nil {
			return fmt.Errorf("vector upsert failed: %w", err)
		}
		if err := p.res.Graph.ApplyDiff(ctx, graph.Diff{
			AddNodes:       nodes,
			AddEdges:       edges,
			RemoveNodes:    removeNodes,
			ClearEdgesFrom: []string{task.RelPath},
		}); err != nil {
			return fmt.Errorf("graph diff failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := p.res.Hashes.Put(task.RelPath, record); err != nil {
		return fmt.Errorf("hash cache update failed: %w", err)
	}

	p.mu.Lock()
	delete(p.failedHash, task.RelPath)
	p.mu.Unlock()
	p.status.commitTS.Store(time.Now().Unix())
	return nil
}

// processDelete removes the file from both stores, then the hash cache.
func (p *Pipeline) processDelete(task Task) error {
	ctx := p.ctx
	err := utils.Retry(ctx, 3, 50*time.Millisecond, func() error {
		if err := p.res.Vectors.DeleteByPath(ctx, task.RelPath); err != nil {
			return fmt.Errorf("vector delete failed: %w", err)
		}
		if err := p.res.Graph.RemoveByFile(ctx, task.RelPath); err != nil {
			return fmt.Errorf("graph delete failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.res.Hashes.Drop(task.RelPath); err != nil {
		return fmt.Errorf("hash cache drop failed: %w", err)
	}
	p.mu.Lock()
	delete(p.failedHash, task.RelPath)
	p.mu.Unlock()
	p.status.commitTS.Store(time.Now().Unix())
	return nil
}
