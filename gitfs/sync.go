package gitfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/gitvcs"
)

// syncLockTimeout bounds the internal lock acquisition around pull/push
// invoked outside an explicit session.
const syncLockTimeout = 30 * time.Second

// withSyncLock serializes sync activity against sessions and other sync
// calls. Inside a session it runs fn directly (the lock is reentrant by
// context).
func (b *Backend) withSyncLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.local.Lock().WithSession(ctx, syncLockTimeout, fn)
}

// Pull fetches the remote branch and merges it into the working tree.
//
// Local uncommitted changes are committed first so the merge has a defined
// base. Divergent paths become SyncConflicts: the conflicted file keeps git's
// conflict markers in the working tree, both content versions stay reachable
// through their index stage refs, and the conflict joins the outstanding set.
// While conflicts are outstanding, Pull returns the outstanding set without
// merging again — repeated pulls never multiply conflicts.
func (b *Backend) Pull(ctx context.Context) ([]backend.SyncConflict, error) {
	var conflicts []backend.SyncConflict

	err := b.withSyncLock(ctx, func(ctx context.Context) error {
		if existing := b.snapshotOutstanding(); len(existing) > 0 {
			conflicts = existing

			return nil
		}

		if err := b.commitLocalChanges(ctx, "Local changes"); err != nil {
			return err
		}

		if err := b.git.Fetch(ctx, defaultRemote, b.branch); err != nil {
			if errors.Is(err, gitvcs.ErrRemoteRefNotFound) {
				// Unborn remote branch: nothing to merge yet.
				return nil
			}

			return remoteErr("fetch", err)
		}

		remoteRef := defaultRemote + "/" + b.branch

		exists, err := b.git.RefExists(ctx, remoteRef)
		if err != nil {
			return remoteErr("fetch", err)
		}

		if !exists {
			// Unborn remote branch: nothing to merge yet.
			return nil
		}

		mergeErr := b.git.Merge(ctx, remoteRef)
		if mergeErr == nil {
			return nil
		}

		if !errors.Is(mergeErr, gitvcs.ErrMergeConflicts) {
			return remoteErr("pull", mergeErr)
		}

		detected, err := b.recordConflicts(ctx)
		if err != nil {
			return err
		}

		conflicts = detected

		b.logger.Warn("pull produced conflicts", slog.Int("count", len(detected)))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return conflicts, nil
}

// Push commits pending working-tree changes and publishes them to the
// remote. Outstanding conflicts or a diverged remote fail with
// ErrSyncRejected; the caller must pull (and resolve) before retrying.
func (b *Backend) Push(ctx context.Context, message string) error {
	return b.withSyncLock(ctx, func(ctx context.Context) error {
		if n := len(b.snapshotOutstanding()); n > 0 {
			return fmt.Errorf("%w: %d unresolved conflicts", backend.ErrSyncRejected, n)
		}

		if message == "" {
			message = "Sync changes"
		}

		if err := b.commitLocalChanges(ctx, message); err != nil {
			return err
		}

		if err := b.git.Push(ctx, defaultRemote, b.branch); err != nil {
			if errors.Is(err, gitvcs.ErrPushRejected) {
				return fmt.Errorf("%w: remote has diverged, pull first", backend.ErrSyncRejected)
			}

			return remoteErr("push", err)
		}

		return nil
	})
}

// Sync pulls and then pushes, skipping the push when the pull left
// unresolved conflicts.
func (b *Backend) Sync(ctx context.Context) ([]backend.SyncConflict, error) {
	var conflicts []backend.SyncConflict

	err := b.withSyncLock(ctx, func(ctx context.Context) error {
		pulled, err := b.Pull(ctx)
		if err != nil {
			return err
		}

		if len(pulled) > 0 {
			conflicts = pulled

			return nil
		}

		return b.Push(ctx, "Sync changes")
	})
	if err != nil {
		return nil, err
	}

	return conflicts, nil
}

// ConflictReport lists all unresolved conflicts, sorted by path.
func (b *Backend) ConflictReport(ctx context.Context) ([]backend.SyncConflict, error) {
	return b.snapshotOutstanding(), nil
}

// AcceptLocal resolves the conflict at path in favor of the local version.
func (b *Backend) AcceptLocal(ctx context.Context, path string) error {
	return b.resolveConflict(ctx, path, backend.ResolutionAcceptedLocal, func(ctx context.Context, rel string) error {
		return b.git.CheckoutOurs(ctx, rel)
	})
}

// AcceptRemote resolves the conflict at path in favor of the remote version.
func (b *Backend) AcceptRemote(ctx context.Context, path string) error {
	return b.resolveConflict(ctx, path, backend.ResolutionAcceptedRemote, func(ctx context.Context, rel string) error {
		return b.git.CheckoutTheirs(ctx, rel)
	})
}

// ResolveWith supersedes both sides of the conflict with caller-supplied
// content.
func (b *Backend) ResolveWith(ctx context.Context, path string, data []byte) error {
	return b.resolveConflict(ctx, path, backend.ResolutionNewContent, func(ctx context.Context, rel string) error {
		_, err := b.local.Update(ctx, rel, data, false)

		return err
	})
}

// resolveConflict applies one resolution: materialize the chosen content,
// stage it, and transition the conflict out of the outstanding set. Once the
// set empties, the merge is concluded with a resolution commit so the
// choices are recorded in history rather than silently rewriting it.
func (b *Backend) resolveConflict(ctx context.Context, path string, state backend.Resolution, apply func(ctx context.Context, rel string) error) error {
	rel := normalizeConflictPath(path)

	return b.withSyncLock(ctx, func(ctx context.Context) error {
		b.mu.Lock()
		conflict, ok := b.outstanding[rel]
		b.mu.Unlock()

		if !ok {
			return &backend.PathError{Op: "resolve", Path: path, Err: backend.ErrNotFound}
		}

		if err := apply(ctx, rel); err != nil {
			return err
		}

		if err := b.git.Add(ctx, rel); err != nil {
			return err
		}

		b.mu.Lock()
		conflict.State = state
		delete(b.outstanding, rel)
		b.resolved = append(b.resolved, rel)
		remaining := len(b.outstanding)
		b.mu.Unlock()

		b.logger.Info("conflict resolved",
			slog.String("path", rel), slog.String("resolution", string(state)))

		if remaining == 0 {
			return b.concludeMerge(ctx)
		}

		return nil
	})
}

// concludeMerge commits the staged resolutions, ending the in-progress merge.
func (b *Backend) concludeMerge(ctx context.Context) error {
	b.mu.Lock()
	paths := b.resolved
	b.resolved = nil
	b.mu.Unlock()

	sort.Strings(paths)

	message := "Merge remote changes"
	if len(paths) > 0 {
		message = fmt.Sprintf("Merge remote changes, resolving %s", strings.Join(paths, ", "))
	}

	if err := b.git.Commit(ctx, message); err != nil {
		return err
	}

	return nil
}

// commitLocalChanges stages and commits pending working-tree changes, if any.
func (b *Backend) commitLocalChanges(ctx context.Context, message string) error {
	if err := b.git.AddAll(ctx); err != nil {
		return err
	}

	staged, err := b.git.HasStagedChanges(ctx)
	if err != nil {
		return err
	}

	if !staged {
		return nil
	}

	return b.git.Commit(ctx, message)
}

// recordConflicts captures the unmerged paths left by a conflicted merge as
// SyncConflict entries in the outstanding set.
func (b *Backend) recordConflicts(ctx context.Context) ([]backend.SyncConflict, error) {
	paths, err := b.git.UnmergedPaths(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range paths {
		if _, exists := b.outstanding[p]; exists {
			continue
		}

		ours, theirs, err := b.git.StageRefs(ctx, p)
		if err != nil {
			return nil, err
		}

		b.outstanding[p] = &backend.SyncConflict{
			Path:       p,
			LocalRef:   ours,
			RemoteRef:  theirs,
			DetectedAt: now,
			State:      backend.ResolutionUnresolved,
		}
	}

	return b.snapshotOutstandingLocked(), nil
}

// snapshotOutstanding returns a sorted copy of the outstanding conflicts.
func (b *Backend) snapshotOutstanding() []backend.SyncConflict {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.snapshotOutstandingLocked()
}

func (b *Backend) snapshotOutstandingLocked() []backend.SyncConflict {
	if len(b.outstanding) == 0 {
		return nil
	}

	conflicts := make([]backend.SyncConflict, 0, len(b.outstanding))

	for _, c := range b.outstanding {
		conflicts = append(conflicts, *c)
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Path < conflicts[j].Path
	})

	return conflicts
}

// normalizeConflictPath maps a caller path to the git-relative form used as
// the outstanding-set key.
func normalizeConflictPath(path string) string {
	return strings.TrimLeft(strings.ReplaceAll(path, "\\", "/"), "/")
}
