package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SessionMeta is durable, machine-local session metadata persisted under
// ConverseHome.
//
// This data never leaves the machine; it exists so a later run can list and
// resume sessions without asking the server.
type SessionMeta struct {
	// SessionID is the session id announced for the connection (server
	// assigned, or the caller's own when the server did not assign one).
	SessionID string `json:"sessionId"`
	// Endpoint is the websocket endpoint the session last connected to.
	Endpoint string `json:"endpoint,omitempty"`
	// MessageCount is the number of history records appended so far.
	MessageCount int `json:"messageCount,omitempty"`
	// LastConnectedAtMs is the wall-clock timestamp of the most recent
	// successful connection.
	LastConnectedAtMs int64 `json:"lastConnectedAtMs,omitempty"`
	// UpdatedAtMs is the wall-clock timestamp of the most recent write.
	UpdatedAtMs int64 `json:"updatedAtMs,omitempty"`
}

// LoadSessionMeta reads the SessionMeta for a session id.
//
// ok is false when no entry exists.
func LoadSessionMeta(converseHome string, sessionID string) (meta SessionMeta, ok bool, err error) {
	path, err := sessionMetaPath(converseHome, sessionID)
	if err != nil {
		return SessionMeta{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionMeta{}, false, nil
		}
		return SessionMeta{}, false, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return SessionMeta{}, false, err
	}
	return meta, true, nil
}

// SaveSessionMeta writes the SessionMeta entry to disk.
func SaveSessionMeta(converseHome string, meta SessionMeta) error {
	if strings.TrimSpace(meta.SessionID) == "" {
		return fmt.Errorf("missing session id")
	}
	path, err := sessionMetaPath(converseHome, meta.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	meta.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// UpdateSessionMeta loads, mutates, and persists a SessionMeta entry.
func UpdateSessionMeta(converseHome string, sessionID string, update func(*SessionMeta)) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("missing session id")
	}
	meta := SessionMeta{SessionID: sessionID}
	if existing, ok, err := LoadSessionMeta(converseHome, sessionID); err != nil {
		return err
	} else if ok {
		meta = existing
	}
	update(&meta)
	meta.SessionID = sessionID
	return SaveSessionMeta(converseHome, meta)
}

// ListSessions returns the ids of every session with local state, newest
// update first.
func ListSessions(converseHome string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(converseHome, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type stamped struct {
		id string
		ms int64
	}
	var found []stamped
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, ok, err := LoadSessionMeta(converseHome, entry.Name())
		if err != nil || !ok {
			continue
		}
		found = append(found, stamped{id: meta.SessionID, ms: meta.UpdatedAtMs})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ms > found[j].ms })
	ids := make([]string, len(found))
	for i, s := range found {
		ids[i] = s.id
	}
	return ids, nil
}

// sessionMetaPath returns the absolute path for session metadata.
func sessionMetaPath(converseHome string, sessionID string) (string, error) {
	dir, err := sessionDir(converseHome, sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "meta.json"), nil
}

// sessionDir returns the per-session state directory.
func sessionDir(converseHome string, sessionID string) (string, error) {
	if strings.TrimSpace(converseHome) == "" {
		return "", fmt.Errorf("missing converse home")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("missing session id")
	}
	// Prevent path traversal if session ids ever become untrusted.
	sessionID = strings.ReplaceAll(sessionID, string(os.PathSeparator), "_")
	return filepath.Join(converseHome, "sessions", sessionID), nil
}
