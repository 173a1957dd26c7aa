package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// tenantIndex maps tenant ids to the device JID whatsmeow stored their
// credentials under. Persisted as a small JSON file next to the credential
// store so restored sessions find their device again.
type tenantIndex struct {
	lock sync.Mutex
	path string
	jids map[string]string
}

func loadTenantIndex(path string) (*tenantIndex, error) {
	idx := &tenantIndex{path: path, jids: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &idx.jids); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return idx, nil
}

func (t *tenantIndex) Lookup(tenantID string) (string, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	jid, ok := t.jids[tenantID]
	return jid, ok
}

// Remember records the pairing outcome and flushes the index to disk.
func (t *tenantIndex) Remember(tenantID, jid string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.jids[tenantID] == jid {
		return nil
	}
	t.jids[tenantID] = jid

	data, err := json.MarshalIndent(t.jids, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o600)
}
