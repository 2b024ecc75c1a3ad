package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
)

// SnapshotRequest names a new snapshot.
type SnapshotRequest struct {
	Name string `json:"name"`
}

// CreateSnapshot archives the quiesced project under snapshots/. Every node
// must be stopped; snapshot operations exclude close/delete/restore.
func (p *Project) CreateSnapshot(ctx context.Context, req SnapshotRequest) (*Snapshot, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	if p.running() {
		return nil, fmt.Errorf("cannot snapshot: %w", models.ErrProjectRunning)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("snapshot name is required: %w", models.ErrValidation)
	}
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("snapshot name must not contain path separators: %w", models.ErrValidation)
	}

	if err := os.MkdirAll(p.snapshotsPath(), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	createdAt := nowUnix()
	fileName := fmt.Sprintf("%s_%d%s", name, createdAt, snapshotSuffix)
	fullPath := filepath.Join(p.snapshotsPath(), fileName)

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("snapshot %q already exists: %w", name, models.ErrDuplicateProject)
		}
		return nil, fmt.Errorf("failed to create snapshot file: %w", err)
	}

	// Nested snapshots are excluded from the archive.
	if err := p.Export(ctx, file, false); err != nil {
		_ = file.Close()
		_ = os.Remove(fullPath)
		return nil, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(fullPath)
		return nil, err
	}

	snapshot := &Snapshot{
		SnapshotID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.projectID+"/"+fileName)).String(),
		ProjectID:  p.projectID,
		Name:       name,
		CreatedAt:  createdAt,
		Path:       fullPath,
	}

	p.mu.Lock()
	p.snapshots[snapshot.SnapshotID] = snapshot
	p.mu.Unlock()

	if p.c.backup != nil {
		go func() {
			if err := p.c.backup.Mirror(context.WithoutCancel(ctx), p.projectID, snapshot.SnapshotID, fullPath); err != nil {
				logger.Warn("snapshot mirror failed",
					logger.KeyProjectID, p.projectID,
					logger.KeySnapshotID, snapshot.SnapshotID,
					logger.KeyError, err,
				)
			}
		}()
	}

	p.emit("snapshot.created", snapshot)
	return snapshot, nil
}

// GetSnapshot resolves a snapshot id.
func (p *Project) GetSnapshot(snapshotID string) (*Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot, ok := p.snapshots[snapshotID]
	if !ok {
		return nil, models.ErrSnapshotNotFound
	}
	return snapshot, nil
}

// ListSnapshots returns all snapshots of the project.
func (p *Project) ListSnapshots() []*Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Snapshot, 0, len(p.snapshots))
	for _, snapshot := range p.snapshots {
		out = append(out, snapshot)
	}
	return out
}

// DeleteSnapshot removes a snapshot archive.
func (p *Project) DeleteSnapshot(snapshotID string) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	snapshot, err := p.GetSnapshot(snapshotID)
	if err != nil {
		return err
	}
	if err := os.Remove(snapshot.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot archive: %w", err)
	}

	p.mu.Lock()
	delete(p.snapshots, snapshotID)
	p.mu.Unlock()

	p.emit("snapshot.deleted", map[string]any{"snapshot_id": snapshotID, "project_id": p.projectID})
	return nil
}

// RestoreSnapshot replaces the project state with the snapshot's: close,
// unpack over the project directory, reload, reopen. The project keeps its
// id; restoring the same snapshot twice yields identical state.
func (p *Project) RestoreSnapshot(ctx context.Context, snapshotID string) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	snapshot, err := p.GetSnapshot(snapshotID)
	if err != nil {
		return err
	}

	wasOpened := p.Status() == ProjectOpened
	if wasOpened {
		if err := p.closeLocked(ctx); err != nil {
			return err
		}
	}

	// Old working files go first so deleted nodes do not leak back in.
	if err := os.RemoveAll(filepath.Join(p.path, projectFilesDir)); err != nil {
		return fmt.Errorf("failed to clear project files: %w", err)
	}

	file, err := os.Open(snapshot.Path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := unpackArchive(file, p.path); err != nil {
		return err
	}

	doc, err := readTopologyFile(p.topologyPath())
	if err != nil {
		return err
	}
	// The archive may carry an older project id; the live id wins.
	doc.ProjectID = p.projectID
	if err := p.applyTopology(doc); err != nil {
		return err
	}
	if err := p.Commit(); err != nil {
		return err
	}

	if wasOpened {
		if err := p.openLocked(ctx); err != nil {
			return err
		}
	}

	p.c.bus.Publish(notification.Event{
		Action:    notification.ActionSnapshotRestore,
		ProjectID: p.projectID,
		Event:     map[string]any{"snapshot_id": snapshotID, "project_id": p.projectID},
	})
	return nil
}
