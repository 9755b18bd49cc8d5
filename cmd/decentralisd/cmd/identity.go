package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

type identity struct {
	OwnerUUID string `json:"owner_uuid"`
	PeerUUID  string `json:"peer_uuid"`
}

// loadOrCreateIdentity reads dataDir/identity.json, creating it with a
// fresh owner/peer UUID pair on first run so this node keeps the same
// identity across restarts. A single node is modeled as one owner
// serving its own files, so OwnerUUID and PeerUUID are independent
// fields but start out distinct identifiers minted together.
func loadOrCreateIdentity(dataDir string) (identity, error) {
	path := filepath.Join(dataDir, "identity.json")

	data, err := os.ReadFile(path)
	if err == nil {
		var id identity
		if err := json.Unmarshal(data, &id); err != nil {
			return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to parse identity.json", err)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to read identity.json", err)
	}

	id := identity{OwnerUUID: uuid.NewString(), PeerUUID: uuid.NewString()}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to create data directory", err)
	}
	out, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to marshal identity", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to write identity.json", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return identity{}, errs.Wrap(errs.Configuration, "cmd.loadOrCreateIdentity", "failed to rename identity.json into place", err)
	}
	return id, nil
}
