package pipeline

import (
	"github.com/google/uuid"
)

// Task kinds
const (
	TaskUpsert = "upsert"
	TaskDelete = "delete"
)

// Task brings one file's representation in the stores up-to-date with its
// on-disk contents. Tasks are generated by the watcher and consumed exactly
// once by the pipeline.
type Task struct {
	ID      string
	Project string
	RelPath string
	Kind    string

	// Hash is the content hash observed when the task was created. The
	// pipeline re-reads the file and defers to the newer event when the
	// hash no longer matches.
	Hash string

	// Generation orders tasks per path; a task whose generation is behind
	// the latest for its path has been superseded and must not mutate the
	// stores.
	Generation uint64
}

// NewTask creates a task with a fresh id.
func NewTask(project, relPath, kind, hash string) Task {
	return Task{
		ID:      uuid.NewString(),
		Project: project,
		RelPath: relPath,
		Kind:    kind,
		Hash:    hash,
	}
}
