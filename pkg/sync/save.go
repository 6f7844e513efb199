package sync

import (
	"context"
	"time"

	"github.com/inklet-io/inklet/pkg/delta"
)

// saveTimeout bounds the persistence call made when the debounce window
// elapses.
const saveTimeout = 10 * time.Second

// resetSaveTimerLocked restarts the debounce window. Every local edit
// within the window lands here and pushes the deadline out; only the latest
// snapshot survives to be persisted. Callers hold e.mu.
func (e *Editor) resetSaveTimerLocked() {
	if e.saveTimer != nil {
		e.saveTimer.Stop()
	}
	e.saveGen++
	gen := e.saveGen
	documentID := e.documentID
	e.saveTimer = time.AfterFunc(e.saveDelay, func() {
		e.flush(gen, documentID)
	})
}

// cancelSaveLocked invalidates any pending save on detach, switch or close.
// Bumping the generation makes an already-fired timer a no-op even if it
// lost the race with Stop.
func (e *Editor) cancelSaveLocked() {
	if e.saveTimer != nil {
		e.saveTimer.Stop()
		e.saveTimer = nil
	}
	e.saveGen++
}

// flush persists the current full snapshot, unless the timer is stale or
// the document is still in its freshly-initialized empty state (a single
// trailing newline must not clobber persisted content).
func (e *Editor) flush(gen uint64, documentID string) {
	e.mu.Lock()
	if e.closed || gen != e.saveGen || documentID != e.documentID {
		e.mu.Unlock()
		return
	}
	snapshot := e.doc
	e.mu.Unlock()

	if delta.Length(snapshot) <= 1 {
		return
	}

	content, err := delta.Marshal(snapshot)
	if err != nil {
		e.reportSaveError(documentID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.contents.Persist(ctx, documentID, string(content)); err != nil {
		e.reportSaveError(documentID, err)
	}
}

// reportSaveError logs and surfaces a persistence failure without blocking
// and without rolling back local content.
func (e *Editor) reportSaveError(documentID string, err error) {
	e.logger.Error("persisting document", "document_id", documentID, "error", err)
	select {
	case e.saveErrs <- err:
	default:
	}
}
