package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// PutFileMetadata inserts or replaces a file's metadata row, encoding
// lrcGroups as a JSON blob for storage.
func (db *DB) PutFileMetadata(meta FileMetadata, lrcGroups [][]int) error {
	blob, err := json.Marshal(lrcGroups)
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.PutFileMetadata", "failed to marshal lrc groups", err)
	}
	meta.LRCGroupsBlob = string(blob)
	if err := db.gorm.Save(&meta).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.PutFileMetadata", "failed to upsert file metadata", err)
	}
	return nil
}

// GetFileMetadataByName looks up a file by (owner, original_name), the
// key used for idempotent re-chunking.
func (db *DB) GetFileMetadataByName(owner, name string) (*FileMetadata, error) {
	var meta FileMetadata
	err := db.gorm.Where("owner_uuid = ? AND original_name = ?", owner, name).First(&meta).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.New(errs.ChunkNotFound, "store.GetFileMetadataByName", "no file metadata for owner/name")
	}
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetFileMetadataByName", "query failed", err)
	}
	return &meta, nil
}

// GetFileMetadata looks up a file by its UUID.
func (db *DB) GetFileMetadata(fileUUID string) (*FileMetadata, error) {
	var meta FileMetadata
	err := db.gorm.Where("file_uuid = ?", fileUUID).First(&meta).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.New(errs.ChunkNotFound, "store.GetFileMetadata", "no file metadata for uuid")
	}
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetFileMetadata", "query failed", err)
	}
	return &meta, nil
}

// DeleteFileMetadata removes a file's metadata row, its chunk rows, and
// all location/assignment rows, inside a single transaction.
func (db *DB) DeleteFileMetadata(fileUUID string) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_uuid = ?", fileUUID).Delete(&StoredChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_uuid = ?", fileUUID).Delete(&ChunkLocation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_uuid = ?", fileUUID).Delete(&ChunkAssignment{}).Error; err != nil {
			return err
		}
		return tx.Where("file_uuid = ?", fileUUID).Delete(&FileMetadata{}).Error
	})
}

// PutChunk inserts or replaces a chunk record.
func (db *DB) PutChunk(c StoredChunk) error {
	if err := db.gorm.Save(&c).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.PutChunk", "failed to upsert chunk record", err)
	}
	return nil
}

// GetChunksByFile returns every known chunk row for fileUUID, ordered
// by index.
func (db *DB) GetChunksByFile(fileUUID string) ([]StoredChunk, error) {
	var chunks []StoredChunk
	err := db.gorm.Where("file_uuid = ?", fileUUID).Order("idx").Find(&chunks).Error
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetChunksByFile", "query failed", err)
	}
	return chunks, nil
}

// DeleteChunk removes a single chunk row.
func (db *DB) DeleteChunk(owner, fileUUID string, idx int) error {
	err := db.gorm.Where("owner_uuid = ? AND file_uuid = ? AND idx = ?", owner, fileUUID, idx).Delete(&StoredChunk{}).Error
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.DeleteChunk", "delete failed", err)
	}
	return nil
}

// UpsertChunkLocation records a confirmed placement of a chunk on a
// peer, replacing any prior row for the same (file, idx, peer).
func (db *DB) UpsertChunkLocation(loc ChunkLocation) error {
	if err := db.gorm.Save(&loc).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.UpsertChunkLocation", "failed to upsert chunk location", err)
	}
	return nil
}

// GetLocationsByFile returns every known peer placement of any chunk of
// fileUUID, used during reconstruction to decide who to ask for a
// missing index.
func (db *DB) GetLocationsByFile(fileUUID string) ([]ChunkLocation, error) {
	var locs []ChunkLocation
	err := db.gorm.Where("file_uuid = ?", fileUUID).Find(&locs).Error
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetLocationsByFile", "query failed", err)
	}
	return locs, nil
}

// GetLocationsByPeer returns every chunk location row referencing
// peerUUID, used when the peer is lost and its chunks must be
// relocated.
func (db *DB) GetLocationsByPeer(peerUUID string) ([]ChunkLocation, error) {
	var locs []ChunkLocation
	err := db.gorm.Where("peer_uuid = ?", peerUUID).Find(&locs).Error
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetLocationsByPeer", "query failed", err)
	}
	return locs, nil
}

// DeleteLocationsByPeer removes every chunk_locations row referencing
// peerUUID, used once the peer is declared lost and a pending
// relocation task exists for each of its chunks.
func (db *DB) DeleteLocationsByPeer(peerUUID string) error {
	if err := db.gorm.Where("peer_uuid = ?", peerUUID).Delete(&ChunkLocation{}).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.DeleteLocationsByPeer", "delete failed", err)
	}
	return nil
}

// UpsertChunkAssignment records a pending, not-yet-confirmed placement.
func (db *DB) UpsertChunkAssignment(a ChunkAssignment) error {
	if err := db.gorm.Save(&a).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.UpsertChunkAssignment", "failed to upsert chunk assignment", err)
	}
	return nil
}

// DeleteChunkAssignment removes a pending assignment row, typically
// once it has been confirmed and promoted to a ChunkLocation.
func (db *DB) DeleteChunkAssignment(fileUUID string, idx int, peerUUID string) error {
	err := db.gorm.Where("file_uuid = ? AND idx = ? AND peer_uuid = ?", fileUUID, idx, peerUUID).Delete(&ChunkAssignment{}).Error
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.DeleteChunkAssignment", "delete failed", err)
	}
	return nil
}

// RecordReplication appends one relocation attempt to the replication
// history table.
func (db *DB) RecordReplication(h ReplicationHistory) error {
	if err := db.gorm.Create(&h).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.RecordReplication", "failed to insert replication history row", err)
	}
	return nil
}

// UpsertPeer inserts a newly observed peer with Laplace-smoothed
// starting counters, or updates an existing peer's address/last-seen
// fields without disturbing its reliability counters.
func (db *DB) UpsertPeer(peerUUID, ip string, port int, now time.Time) error {
	var existing Peer
	err := db.gorm.Where("peer_uuid = ?", peerUUID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		p := Peer{
			PeerUUID:     peerUUID,
			IP:           ip,
			Port:         port,
			FirstSeen:    now,
			LastSeen:     now,
			SuccessCount: 1,
			FailureCount: 1,
		}
		if err := db.gorm.Create(&p).Error; err != nil {
			return errs.Wrap(errs.ChunkDatabase, "store.UpsertPeer", "failed to insert new peer", err)
		}
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.UpsertPeer", "query failed", err)
	}
	existing.IP = ip
	existing.Port = port
	existing.LastSeen = now
	if err := db.gorm.Save(&existing).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.UpsertPeer", "failed to update peer", err)
	}
	return nil
}

// RecordPeerOutcome increments a peer's success or failure counter
// after an RPC call, implementing the reliability update spec.md §3
// defines.
func (db *DB) RecordPeerOutcome(peerUUID string, success bool, now time.Time) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		var p Peer
		if err := tx.Where("peer_uuid = ?", peerUUID).First(&p).Error; err != nil {
			return err
		}
		if success {
			p.SuccessCount++
		} else {
			p.FailureCount++
		}
		p.LastSeen = now
		return tx.Save(&p).Error
	})
}

// GetPeer returns the known record for peerUUID.
func (db *DB) GetPeer(peerUUID string) (*Peer, error) {
	var p Peer
	err := db.gorm.Where("peer_uuid = ?", peerUUID).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.New(errs.ChunkNotFound, "store.GetPeer", "peer not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.GetPeer", "query failed", err)
	}
	return &p, nil
}

// ListEligiblePeers returns every peer with reliability >= minReliability
// whose last_seen is within the keepalive window, ordered by
// descending reliability — the placement and reconstruction-order
// policy spec.md §3 and §4.9 both rely on.
func (db *DB) ListEligiblePeers(minReliability float64, seenWithin time.Duration, now time.Time) ([]Peer, error) {
	var peers []Peer
	if err := db.gorm.Find(&peers).Error; err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.ListEligiblePeers", "query failed", err)
	}
	cutoff := now.Add(-seenWithin)
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p.Reliability() >= minReliability && !p.LastSeen.Before(cutoff) {
			out = append(out, p)
		}
	}
	sortPeersByReliabilityDesc(out)
	return out, nil
}

func sortPeersByReliabilityDesc(peers []Peer) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && peers[j].Reliability() > peers[j-1].Reliability(); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
}

// LocalStats summarizes what this node currently stores, per
// get_local_stats.
type LocalStats struct {
	FileCount        int64
	LocalChunkCount  int64
	ForeignChunkCount int64
}

// GetLocalStats returns (file_count, local_chunk_count,
// foreign_chunk_count) where "local" means owner_uuid equals
// localOwnerUUID and "foreign" means it doesn't.
func (db *DB) GetLocalStats(localOwnerUUID string) (LocalStats, error) {
	var stats LocalStats
	if err := db.gorm.Model(&FileMetadata{}).Where("owner_uuid = ?", localOwnerUUID).Count(&stats.FileCount).Error; err != nil {
		return LocalStats{}, errs.Wrap(errs.ChunkDatabase, "store.GetLocalStats", "file count query failed", err)
	}
	if err := db.gorm.Model(&StoredChunk{}).Where("owner_uuid = ?", localOwnerUUID).Count(&stats.LocalChunkCount).Error; err != nil {
		return LocalStats{}, errs.Wrap(errs.ChunkDatabase, "store.GetLocalStats", "local chunk count query failed", err)
	}
	if err := db.gorm.Model(&StoredChunk{}).Where("owner_uuid <> ?", localOwnerUUID).Count(&stats.ForeignChunkCount).Error; err != nil {
		return LocalStats{}, errs.Wrap(errs.ChunkDatabase, "store.GetLocalStats", "foreign chunk count query failed", err)
	}
	return stats, nil
}

// ListExpiredFiles returns every FileMetadata row whose expires_at has
// passed as of now, the input to cleanup_expired_files.
func (db *DB) ListExpiredFiles(now time.Time) ([]FileMetadata, error) {
	var files []FileMetadata
	err := db.gorm.Where("expires_at <= ?", now).Find(&files).Error
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.ListExpiredFiles", "query failed", err)
	}
	return files, nil
}

// CreateReplicationTask inserts a new pending relocation task.
func (db *DB) CreateReplicationTask(t ReplicationTask) error {
	if t.State == "" {
		t.State = "pending"
	}
	if err := db.gorm.Create(&t).Error; err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.CreateReplicationTask", "failed to insert replication task", err)
	}
	return nil
}

// ListPendingReplicationTasks returns every task still in the pending
// state whose next_attempt_at backoff (if any) has elapsed by now,
// oldest first.
func (db *DB) ListPendingReplicationTasks(now time.Time) ([]ReplicationTask, error) {
	var tasks []ReplicationTask
	err := db.gorm.Where("state = ? AND next_attempt_at <= ?", "pending", now).Order("created_at").Find(&tasks).Error
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.ListPendingReplicationTasks", "query failed", err)
	}
	return tasks, nil
}

// UpdateReplicationTaskState transitions a task to a new terminal state
// (done or failed), recording the attempt count alongside it.
func (db *DB) UpdateReplicationTaskState(id uint, state string, attempts int) error {
	err := db.gorm.Model(&ReplicationTask{}).Where("id = ?", id).Updates(map[string]any{
		"state":    state,
		"attempts": attempts,
	}).Error
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.UpdateReplicationTaskState", "update failed", err)
	}
	return nil
}

// RescheduleReplicationTask keeps a task pending but bumps its attempt
// count and pushes its next eligible run past the configured backoff,
// used when a relocation attempt fails but hasn't yet exhausted its
// retry budget.
func (db *DB) RescheduleReplicationTask(id uint, attempts int, nextAttemptAt time.Time) error {
	err := db.gorm.Model(&ReplicationTask{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt,
	}).Error
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.RescheduleReplicationTask", "update failed", err)
	}
	return nil
}

// SetFileDegraded flips a file's degraded flag, surfaced via
// get_file_status once a chunk's relocation has exhausted every
// recovery path.
func (db *DB) SetFileDegraded(fileUUID string, degraded bool) error {
	err := db.gorm.Model(&FileMetadata{}).Where("file_uuid = ?", fileUUID).Update("degraded", degraded).Error
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.SetFileDegraded", "update failed", err)
	}
	return nil
}

// UnmarshalLRCGroups decodes a FileMetadata row's LRCGroupsBlob back
// into the [][]int form the codec understands.
func UnmarshalLRCGroups(meta FileMetadata) ([][]int, error) {
	var groups [][]int
	if meta.LRCGroupsBlob == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(meta.LRCGroupsBlob), &groups); err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.UnmarshalLRCGroups", "failed to unmarshal lrc groups blob", err)
	}
	return groups, nil
}
