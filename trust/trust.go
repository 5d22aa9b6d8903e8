// Package trust implements the client's Trust-On-First-Use store: the
// first time a (host, port) is seen, its public-key fingerprint is
// recorded; every subsequent connection must match it.
package trust

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/trustwire/tcpmux/identity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KnownServer is one persisted trust record.
type KnownServer struct {
	Host        string `json:"Host"`
	Port        int    `json:"Port"`
	Fingerprint string `json:"Fingerprint"`
}

// Store is the client's known_servers.json trust database. All reads and
// writes are serialized by mu; writes re-serialize the full record list.
type Store struct {
	mu      sync.Mutex
	path    string
	servers map[string]KnownServer // "host:port" -> record
}

// Load opens path, returning an empty store if it does not yet exist.
func Load(path string) (*Store, error) {
	s := &Store{path: path, servers: make(map[string]KnownServer)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read trust store: %w", err)
	}

	var records []KnownServer
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse trust store: %w", err)
	}
	for _, r := range records {
		s.servers[key(r.Host, r.Port)] = r
	}
	return s, nil
}

func key(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// VerifyOrTrust computes the fingerprint of peerPublicKey (SubjectPublicKeyInfo
// bytes). If (host, port) is already known, it returns whether the computed
// fingerprint equals the stored one (no write occurs). If (host, port) is
// unseen, it records the fingerprint, persists the store, and returns true.
func (s *Store) VerifyOrTrust(host string, port int, peerPublicKey []byte) (bool, error) {
	fingerprint := identity.Fingerprint(peerPublicKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(host, port)
	if existing, ok := s.servers[k]; ok {
		return existing.Fingerprint == fingerprint, nil
	}

	s.servers[k] = KnownServer{Host: host, Port: port, Fingerprint: fingerprint}
	if err := s.persistLocked(); err != nil {
		delete(s.servers, k)
		return false, err
	}
	return true, nil
}

// persistLocked writes every known record to a temp file and atomically
// renames it over the target path. Caller must hold mu.
func (s *Store) persistLocked() error {
	records := make([]KnownServer, 0, len(s.servers))
	for _, r := range s.servers {
		records = append(records, r)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trust store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".known_servers-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp trust store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp trust store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp trust store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename trust store into place: %w", err)
	}
	return nil
}
