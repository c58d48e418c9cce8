package livedata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tablestakes/platform/internal/domain"
)

// Store owns the per-game document files and the cached read API every mode
// resolver consults. Documents are only ever published via temp-file +
// atomic rename, so a partial write is never observable.
type Store struct {
	dataDir  string
	testMode bool
	cache    *gocache.Cache
	readTTL  time.Duration
}

// NewStore creates a store rooted at dataDir. The read cache TTL is 90% of
// the ingest interval with a 5 second floor, to coalesce read bursts without
// serving documents older than roughly one tick.
func NewStore(dataDir string, ingestInterval time.Duration, testMode bool) *Store {
	ttl := time.Duration(float64(ingestInterval) * 0.9)
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	return &Store{
		dataDir:  dataDir,
		testMode: testMode,
		cache:    gocache.New(ttl, 2*ttl),
		readTTL:  ttl,
	}
}

// Directory layout. Deterministic mode reads pre-seeded fixtures instead of
// live ingest output.

func (s *Store) rawDir(league string) string {
	if s.testMode {
		return filepath.Join(s.dataDir, fmt.Sprintf("test_%s_data", league), "raw")
	}
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_raw_live_stats", league))
}

func (s *Store) refinedDir(league string) string {
	if s.testMode {
		return filepath.Join(s.dataDir, fmt.Sprintf("test_%s_data", league), "refined")
	}
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_refined_live_stats", league))
}

func (s *Store) rawPath(league, gameID string) string {
	return filepath.Join(s.rawDir(league), gameID+".json")
}

func (s *Store) refinedPath(league, gameID string) string {
	return filepath.Join(s.refinedDir(league), gameID+".json")
}

func cacheKey(league, gameID string) string { return league + ":" + gameID }

// writeAtomic publishes data at path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// WriteRaw stores the raw provider payload for a game.
func (s *Store) WriteRaw(league, gameID string, data []byte) error {
	return writeAtomic(s.rawPath(league, gameID), data)
}

// ReadRaw returns the raw payload, or (nil, nil) when absent.
func (s *Store) ReadRaw(league, gameID string) ([]byte, error) {
	data, err := os.ReadFile(s.rawPath(league, gameID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read raw %s: %w", gameID, err)
	}
	return data, nil
}

// WriteRefined publishes the refined document and flushes the read cache
// entry so the next read observes the fresh write.
func (s *Store) WriteRefined(doc *domain.RefinedGameDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal refined doc: %w", err)
	}
	if err := writeAtomic(s.refinedPath(doc.League, doc.GameID), data); err != nil {
		return err
	}
	s.Invalidate(doc.League, doc.GameID)
	return nil
}

// Invalidate flushes the cached document for a game.
func (s *Store) Invalidate(league, gameID string) {
	s.cache.Delete(cacheKey(league, gameID))
}

// Game returns the refined document for a game, serving repeat reads within
// one ingest interval from the in-process cache. A missing document returns
// (nil, nil).
func (s *Store) Game(league, gameID string) (*domain.RefinedGameDoc, error) {
	key := cacheKey(league, gameID)
	if v, ok := s.cache.Get(key); ok {
		return v.(*domain.RefinedGameDoc), nil
	}

	data, err := os.ReadFile(s.refinedPath(league, gameID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read refined %s: %w", gameID, err)
	}

	var doc domain.RefinedGameDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode refined %s: %w", gameID, err)
	}

	s.cache.Set(key, &doc, s.readTTL)
	return &doc, nil
}

// GameStatus returns the status string for a game, or "" when unknown.
func (s *Store) GameStatus(league, gameID string) (string, error) {
	doc, err := s.Game(league, gameID)
	if err != nil || doc == nil {
		return "", err
	}
	return doc.Status, nil
}

// PossessionTeamID returns the team currently holding possession, or "".
func (s *Store) PossessionTeamID(league, gameID string) (string, error) {
	doc, err := s.Game(league, gameID)
	if err != nil || doc == nil {
		return "", err
	}
	return doc.PossessionTeamID(), nil
}

// PlayerStat reads one player's stat by category and key. The bool is false
// when the game, player, or key is absent.
func (s *Store) PlayerStat(league, gameID, playerID, category, key string) (float64, bool, error) {
	doc, err := s.Game(league, gameID)
	if err != nil || doc == nil {
		return 0, false, err
	}
	v, ok := doc.PlayerStat(playerID, category, key)
	return v, ok, nil
}

// ListGames returns every refined document currently on disk for a league,
// bypassing the cache (used by the bootstrap endpoint and cleanup).
func (s *Store) ListGames(league string) ([]*domain.RefinedGameDoc, error) {
	entries, err := os.ReadDir(s.refinedDir(league))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refined: %w", err)
	}

	var docs []*domain.RefinedGameDoc
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.refinedDir(league), e.Name()))
		if err != nil {
			continue
		}
		var doc domain.RefinedGameDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// rawFiles lists raw file names with their modification times.
func (s *Store) rawFiles(league string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(s.rawDir(league))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list raw: %w", err)
	}

	files := make(map[string]time.Time)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files[strings.TrimSuffix(e.Name(), ".json")] = info.ModTime()
	}
	return files, nil
}

// RemoveRaw deletes a raw file.
func (s *Store) RemoveRaw(league, gameID string) error {
	return os.Remove(s.rawPath(league, gameID))
}

// RemoveRefined deletes a refined file and flushes its cache entry.
func (s *Store) RemoveRefined(league, gameID string) error {
	s.Invalidate(league, gameID)
	return os.Remove(s.refinedPath(league, gameID))
}
