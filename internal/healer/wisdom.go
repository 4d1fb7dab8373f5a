package healer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultWisdomExpiry is the §4.9 default expiry window for a learned
// pattern that sees no further successes: 30 days.
const DefaultWisdomExpiry = 30 * 24 * time.Hour

// DefaultMinTrustedSuccesses is the configured minimum successCount
// (§3 invariant) below which a LearnedPattern is not yet trustworthy.
const DefaultMinTrustedSuccesses = 3

// LearnedPattern is one entry in the wisdom catalog (§3, §6).
type LearnedPattern struct {
	Signature       string    `json:"signature"`
	SuccessCount    int       `json:"successCount"`
	FailureCount    int       `json:"failureCount"`
	SuccessRate     float64   `json:"successRate"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastSeen        time.Time `json:"lastSeen"`
	ExpiresAt       time.Time `json:"expiresAt"`
	ImprovementNote string    `json:"improvementNote,omitempty"`
}

// Trusted reports whether this pattern has accrued enough successes to
// be trustworthy (§3: "trustworthy only when successCount reaches a
// configured minimum").
func (p *LearnedPattern) Trusted(minSuccesses int) bool {
	return p.SuccessCount >= minSuccesses
}

func (p *LearnedPattern) recompute() {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		p.SuccessRate = 0
		return
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(total)
}

// WisdomStore is the §6 wisdom.json document:
// {version, lastUpdated, patterns[], sessionCount, totalHeals, totalFailures}.
type WisdomStore struct {
	mu sync.Mutex

	Version      int                        `json:"version"`
	LastUpdated  time.Time                  `json:"lastUpdated"`
	Patterns     map[string]*LearnedPattern `json:"-"`
	SessionCount int                        `json:"sessionCount"`
	TotalHeals   int                        `json:"totalHeals"`
	TotalFailures int                       `json:"totalFailures"`

	expiry       time.Duration
	path         string
}

// wisdomOnDisk mirrors WisdomStore's exported JSON shape, with
// Patterns as an array rather than the lookup map the store keeps
// in memory.
type wisdomOnDisk struct {
	Version       int               `json:"version"`
	LastUpdated   time.Time         `json:"lastUpdated"`
	Patterns      []*LearnedPattern `json:"patterns"`
	SessionCount  int               `json:"sessionCount"`
	TotalHeals    int               `json:"totalHeals"`
	TotalFailures int               `json:"totalFailures"`
}

// NewWisdomStore builds an empty store rooted at path.
func NewWisdomStore(path string) *WisdomStore {
	return &WisdomStore{
		Version:  1,
		Patterns: make(map[string]*LearnedPattern),
		expiry:   DefaultWisdomExpiry,
		path:     path,
	}
}

// LoadWisdomStore reads path if present, else returns a fresh store
// with sessionCount already bumped to 1.
func LoadWisdomStore(path string) (*WisdomStore, error) {
	s := NewWisdomStore(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.SessionCount = 1
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var onDisk wisdomOnDisk
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, err
	}

	s.Version = onDisk.Version
	s.LastUpdated = onDisk.LastUpdated
	s.SessionCount = onDisk.SessionCount + 1
	s.TotalHeals = onDisk.TotalHeals
	s.TotalFailures = onDisk.TotalFailures
	for _, p := range onDisk.Patterns {
		s.Patterns[p.Signature] = p
	}
	return s, nil
}

// Save persists the store to its path (§5: "last-writer-wins").
func (s *WisdomStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	onDisk := wisdomOnDisk{
		Version:       s.Version,
		LastUpdated:   time.Now(),
		SessionCount:  s.SessionCount,
		TotalHeals:    s.TotalHeals,
		TotalFailures: s.TotalFailures,
	}
	for _, p := range s.Patterns {
		onDisk.Patterns = append(onDisk.Patterns, p)
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Signature returns the stable hash of a pattern-identifying string
// (§3 "pattern-signature (stable hash)"). Callers hash the pattern name
// plus whatever context makes two occurrences "the same" learned
// pattern (e.g. name+cli-kind).
func Signature(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RecordSuccess records a successful heal for signature, creating the
// entry if absent and refreshing its expiry (§3: "expiresAt is
// refreshed on every recorded success").
func (s *WisdomStore) RecordSuccess(signature, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p, ok := s.Patterns[signature]
	if !ok {
		p = &LearnedPattern{Signature: signature, FirstSeen: now}
		s.Patterns[signature] = p
	}
	p.SuccessCount++
	p.LastSeen = now
	p.ExpiresAt = now.Add(s.expiry)
	if note != "" {
		p.ImprovementNote = note
	}
	p.recompute()
	s.TotalHeals++
}

// RecordFailure records a failed heal for signature.
func (s *WisdomStore) RecordFailure(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p, ok := s.Patterns[signature]
	if !ok {
		p = &LearnedPattern{Signature: signature, FirstSeen: now}
		s.Patterns[signature] = p
	}
	p.FailureCount++
	p.LastSeen = now
	p.recompute()
	s.TotalFailures++
}

// PruneExpired removes entries whose expiresAt has passed, returning
// the count removed.
func (s *WisdomStore) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sig, p := range s.Patterns {
		if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
			delete(s.Patterns, sig)
			removed++
		}
	}
	return removed
}

// Lookup returns the learned pattern for signature, if any.
func (s *WisdomStore) Lookup(signature string) (*LearnedPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Patterns[signature]
	return p, ok
}
