package storage

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nuvola-ai/converse-go/internal/crypto"
	"github.com/nuvola-ai/converse-go/internal/wire"
)

// HistoryRecord is one retained frame with its arrival timestamp.
type HistoryRecord struct {
	ReceivedAtMs int64         `json:"receivedAtMs"`
	Envelope     wire.Envelope `json:"envelope"`
}

// HistoryStore retains primary content frames per session, encrypted at rest.
//
// Each session gets its own append-only file under ConverseHome; every line
// is one AES-256-GCM-sealed record, keyed by a session key derived from the
// master secret. Losing the master secret loses the history.
type HistoryStore struct {
	home   string
	master []byte

	mu sync.Mutex
}

// NewHistoryStore opens a history store rooted at converseHome.
func NewHistoryStore(converseHome string, master []byte) (*HistoryStore, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("master secret must be 32 bytes")
	}
	return &HistoryStore{home: converseHome, master: master}, nil
}

// Append encrypts and retains one frame for the session.
func (s *HistoryStore) Append(sessionID string, env wire.Envelope) error {
	record := HistoryRecord{
		ReceivedAtMs: time.Now().UnixMilli(),
		Envelope:     env,
	}

	key, err := crypto.DeriveSessionKey(s.master, sessionID)
	if err != nil {
		return err
	}
	sealed, err := crypto.EncryptWithDataKey(record, key)
	if err != nil {
		return fmt.Errorf("seal history record: %w", err)
	}
	line := base64.StdEncoding.EncodeToString(sealed)

	path, err := s.historyPath(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Load decrypts and returns the session's retained frames in arrival order.
func (s *HistoryStore) Load(sessionID string) ([]HistoryRecord, error) {
	key, err := crypto.DeriveSessionKey(s.master, sessionID)
	if err != nil {
		return nil, err
	}
	path, err := s.historyPath(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var records []HistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sealed, err := base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			return nil, fmt.Errorf("corrupt history line: %w", err)
		}
		var record HistoryRecord
		if err := crypto.DecryptWithDataKey(sealed, key, &record); err != nil {
			return nil, fmt.Errorf("unseal history record: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return records, nil
}

func (s *HistoryStore) historyPath(sessionID string) (string, error) {
	dir, err := sessionDir(s.home, sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.jsonl"), nil
}
