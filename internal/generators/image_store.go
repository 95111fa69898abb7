package generators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrImageNotFound = errors.New("image not found")

// ImageEntry describes a stored image
type ImageEntry struct {
	Key          string            `json:"key"`
	FilePath     string            `json:"file_path"`
	MimeType     string            `json:"mime_type"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	AccessCount  int               `json:"access_count"`
	FileSize     int64             `json:"file_size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ImageStore keeps uploaded fabric maps and rendered results on disk, keyed by
// content hash, with a .meta sidecar per image.
type ImageStore struct {
	entries    map[string]*ImageEntry
	directory  string
	maxEntries int
	ttl        time.Duration
	mu         sync.RWMutex
	stats      *StoreStats
}

// StoreStats holds statistics about the store
type StoreStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
}

// NewImageStore creates a new image store
func NewImageStore(directory string, maxEntries int, ttl time.Duration) *ImageStore {
	return &ImageStore{
		entries:    make(map[string]*ImageEntry),
		directory:  directory,
		maxEntries: maxEntries,
		ttl:        ttl,
		stats:      &StoreStats{},
	}
}

// Initialize loads existing entries from disk and drops expired ones
func (s *ImageStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.directory, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	files, err := os.ReadDir(s.directory)
	if err != nil {
		return fmt.Errorf("failed to read image directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".meta") {
			continue
		}

		metaPath := filepath.Join(s.directory, f.Name())
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var entry ImageEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}

		if s.expired(&entry, time.Now()) {
			_ = os.Remove(entry.FilePath)
			_ = os.Remove(metaPath)
			continue
		}
		if _, err := os.Stat(entry.FilePath); err != nil {
			_ = os.Remove(metaPath)
			continue
		}

		s.entries[entry.Key] = &entry
		s.stats.TotalEntries++
		s.stats.TotalSize += entry.FileSize
	}

	return nil
}

// Put stores image bytes and returns their key. Storing identical bytes again
// returns the existing key and restarts its TTL.
func (s *ImageStore) Put(ctx context.Context, data []byte, mimeType string, metadata map[string]string) (string, error) {
	key := ContentKey(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.entries[key]; ok && !s.expired(entry, now) {
		refreshed := *entry
		refreshed.CreatedAt = now
		refreshed.LastAccessed = now
		if err := s.writeMeta(&refreshed); err != nil {
			return "", err
		}
		*entry = refreshed
		return key, nil
	}

	if err := os.MkdirAll(s.directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	filePath := filepath.Join(s.directory, key+extensionFor(mimeType))
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	entry := &ImageEntry{
		Key:          key,
		FilePath:     filePath,
		MimeType:     mimeType,
		CreatedAt:    now,
		LastAccessed: now,
		FileSize:     int64(len(data)),
		Metadata:     metadata,
	}

	if err := s.writeMeta(entry); err != nil {
		return "", err
	}

	if old, ok := s.entries[key]; ok {
		s.stats.TotalEntries--
		s.stats.TotalSize -= old.FileSize
	}
	s.entries[key] = entry
	s.stats.TotalEntries++
	s.stats.TotalSize += entry.FileSize

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		if !s.evictOldest(key) {
			break
		}
	}

	return key, nil
}

// Get returns the image bytes and entry for key
func (s *ImageStore) Get(ctx context.Context, key string) ([]byte, *ImageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.recordMiss()
		return nil, nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
	}

	now := time.Now()
	if s.expired(entry, now) {
		s.removeLocked(key)
		s.recordMiss()
		return nil, nil, fmt.Errorf("%w: %s expired", ErrImageNotFound, key)
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		s.removeLocked(key)
		s.recordMiss()
		return nil, nil, fmt.Errorf("%w: failed to read %s: %v", ErrImageNotFound, key, err)
	}

	entry.LastAccessed = now
	entry.AccessCount++
	s.stats.Hits++
	s.updateHitRate()

	entryCopy := *entry
	return data, &entryCopy, nil
}

// Check reports whether a live entry exists for key
func (s *ImageStore) Check(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	return ok && !s.expired(entry, time.Now())
}

// CleanExpired removes expired entries and returns how many were removed
func (s *ImageStore) CleanExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return 0
	}

	count := 0
	now := time.Now()
	for key, entry := range s.entries {
		if s.expired(entry, now) {
			s.removeLocked(key)
			count++
		}
	}
	return count
}

// RunJanitor removes expired entries every interval until ctx is done
func (s *ImageStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanExpired(ctx)
		}
	}
}

// GetStats returns a snapshot of store statistics
func (s *ImageStore) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return *s.stats
}

// ContentKey returns the storage key for image bytes
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *ImageStore) expired(entry *ImageEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(entry.CreatedAt) > s.ttl
}

func (s *ImageStore) writeMeta(entry *ImageEntry) error {
	metaData, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(entry.Key), metaData, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *ImageStore) metaPath(key string) string {
	return filepath.Join(s.directory, key+".meta")
}

func (s *ImageStore) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	_ = os.Remove(entry.FilePath)
	_ = os.Remove(s.metaPath(key))

	delete(s.entries, key)
	s.stats.TotalEntries--
	s.stats.TotalSize -= entry.FileSize
}

// evictOldest removes the least recently accessed entry other than keep
func (s *ImageStore) evictOldest(keep string) bool {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range s.entries {
		if key == keep {
			continue
		}
		if oldestKey == "" || entry.LastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessed
		}
	}

	if oldestKey == "" {
		return false
	}
	s.removeLocked(oldestKey)
	return true
}

func (s *ImageStore) recordMiss() {
	s.stats.Misses++
	s.updateHitRate()
}

func (s *ImageStore) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/tiff":
		return ".tiff"
	default:
		return ".png"
	}
}
