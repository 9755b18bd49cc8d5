// Package store is the embedded chunk-metadata database: file records,
// chunk records, their peer placements, replication history, and peer
// reliability bookkeeping, backed by GORM over a pure-Go SQLite driver
// so the whole module builds without cgo.
package store

import (
	"net"
	"strconv"
	"time"
)

// FileMetadata describes one chunked file, keyed by FileUUID.
type FileMetadata struct {
	FileUUID       string `gorm:"primaryKey"`
	OwnerUUID      string `gorm:"index:idx_owner_name"`
	OriginalName   string `gorm:"index:idx_owner_name"`
	OriginalSize   int64
	OriginalSHA256 string
	K              int
	M              int
	ChunkSize      int
	TotalChunks    int
	LRCGroupSize   int
	LRCGroupsBlob  string // JSON-encoded [][]int
	ContentHash    string
	CreatedAt      time.Time
	ExpiresAt      time.Time

	// Degraded is set by the replication manager when a chunk's
	// relocation has exhausted every fetchable copy and local
	// reconstruction, surfaced via get_file_status.
	Degraded bool
}

// StoredChunk is one shard of a file, local or foreign.
type StoredChunk struct {
	OwnerUUID string    `gorm:"primaryKey;column:owner_uuid"`
	FileUUID  string    `gorm:"primaryKey;column:file_uuid"`
	Idx       int       `gorm:"primaryKey;column:idx"`
	Role      string    `gorm:"column:role"`
	SizeBytes int       `gorm:"column:size_bytes"`
	SHA256    string    `gorm:"column:sha256"`
	StoredAt  time.Time `gorm:"column:stored_at"`
}

func (StoredChunk) TableName() string { return "chunks" }

// ChunkLocation records a confirmed placement of a chunk on a peer.
type ChunkLocation struct {
	FileUUID    string    `gorm:"primaryKey;column:file_uuid"`
	Idx         int       `gorm:"primaryKey;column:idx"`
	PeerUUID    string    `gorm:"primaryKey;column:peer_uuid"`
	AssignedAt  time.Time `gorm:"column:assigned_at"`
	Confirmed   bool      `gorm:"column:confirmed"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
}

func (ChunkLocation) TableName() string { return "chunk_locations" }

// ChunkAssignment mirrors ChunkLocation but for pending, pre-confirmed
// placements still being pushed to a peer.
type ChunkAssignment struct {
	FileUUID   string    `gorm:"primaryKey;column:file_uuid"`
	Idx        int       `gorm:"primaryKey;column:idx"`
	PeerUUID   string    `gorm:"primaryKey;column:peer_uuid"`
	AssignedAt time.Time `gorm:"column:assigned_at"`
	Confirmed  bool      `gorm:"column:confirmed"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
}

func (ChunkAssignment) TableName() string { return "chunk_assignments" }

// ReplicationHistory records one relocation attempt of a chunk from one
// peer to another.
type ReplicationHistory struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	FileUUID  string
	Idx       int
	FromPeer  string
	ToPeer    string
	Timestamp time.Time
	Success   bool
}

func (ReplicationHistory) TableName() string { return "replication_history" }

// Peer is a known node's address and reliability counters. Laplace
// smoothing means both counters start at 1, not 0, so a brand-new peer
// has reliability 0.5 rather than an undefined 0/0.
type Peer struct {
	PeerUUID      string `gorm:"primaryKey;column:peer_uuid"`
	IP            string
	Port          int
	FirstSeen     time.Time
	LastSeen      time.Time
	SuccessCount  int64 `gorm:"default:1"`
	FailureCount  int64 `gorm:"default:1"`
}

func (Peer) TableName() string { return "peers" }

// Reliability returns the Laplace-smoothed success ratio spec.md
// defines for peer eligibility.
func (p Peer) Reliability() float64 {
	return float64(p.SuccessCount) / float64(p.SuccessCount+p.FailureCount)
}

// AddrString returns the peer's dialable "ip:port" address.
func (p Peer) AddrString() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// ReplicationTask tracks one pending-or-attempted relocation of a
// chunk away from a peer that was declared lost.
type ReplicationTask struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	FileUUID      string `gorm:"index:idx_repltask_file"`
	ChunkIndex    int
	LostPeerUUID  string
	CreatedAt     time.Time
	State         string // pending, in_progress, done, failed
	Attempts      int
	NextAttemptAt time.Time
}

func (ReplicationTask) TableName() string { return "replication_tasks" }

// schemaVersion is a single-row table holding the applied migration
// number, consulted on open to decide which forward migrations to run.
type schemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version int
}

func (schemaVersion) TableName() string { return "schema_version" }

const currentSchemaVersion = 1
