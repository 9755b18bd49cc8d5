package chunking

import "github.com/decentralis-net/decentralis-core/internal/store"

// FileStatus is the pure read get_file_status returns.
type FileStatus struct {
	Required          int
	AvailableLocal    int
	AvailableRemote   int
	Reachable         bool
	Reconstructable   bool
	Degraded          bool
}

// GetFileStatus reports a file's current placement health without any
// side effects.
func (m *Manager) GetFileStatus(fileUUID string) (FileStatus, error) {
	meta, err := m.DB.GetFileMetadata(fileUUID)
	if err != nil {
		return FileStatus{}, err
	}

	var status FileStatus
	status.Required = meta.K
	status.Degraded = meta.Degraded

	for idx := 0; idx < meta.TotalChunks; idx++ {
		if m.Chunks.ChunkExists(meta.OwnerUUID, fileUUID, idx) {
			status.AvailableLocal++
		}
	}

	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		return FileStatus{}, err
	}
	remoteIdx := make(map[int]bool)
	for _, l := range locs {
		if l.Confirmed {
			remoteIdx[l.Idx] = true
			status.Reachable = true
		}
	}
	status.AvailableRemote = len(remoteIdx)

	coveredIdx := make(map[int]bool, status.AvailableLocal+status.AvailableRemote)
	for idx := 0; idx < meta.TotalChunks; idx++ {
		if m.Chunks.ChunkExists(meta.OwnerUUID, fileUUID, idx) {
			coveredIdx[idx] = true
		}
	}
	for idx := range remoteIdx {
		coveredIdx[idx] = true
	}

	groups, err := store.UnmarshalLRCGroups(*meta)
	if err != nil {
		return FileStatus{}, err
	}
	status.Reconstructable = reconstructable(coveredIdx, meta.K, meta.M, groups)

	return status, nil
}

// reconstructable mirrors codec.Decode's own recovery predicate over
// shard indices alone, without touching the bytes: an LRC symbol first
// closes any single-gap group, and only the data rows that survive or
// get closed that way count toward the RS k-of-(k+m) bar. An LRC symbol
// covering a group with two or more gaps, or no gaps at all, closes
// nothing and must not be counted as if it did.
func reconstructable(covered map[int]bool, k, m int, groups [][]int) bool {
	dataCovered := make(map[int]bool, k)
	for i := 0; i < k; i++ {
		if covered[i] {
			dataCovered[i] = true
		}
	}

	for gi, group := range groups {
		if !covered[k+m+gi] {
			continue
		}
		missing := -1
		missingCount := 0
		for _, di := range group {
			if !dataCovered[di] {
				missingCount++
				missing = di
			}
		}
		if missingCount == 1 {
			dataCovered[missing] = true
		}
	}

	rows := len(dataCovered)
	for p := 0; p < m; p++ {
		if covered[k+p] {
			rows++
		}
	}
	return rows >= k
}
