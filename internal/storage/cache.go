package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/cartomix/havana/internal/track"
)

// CacheKey builds the identity triple for a track: lowercased name
// without extension, byte size, and whole seconds of duration.
func CacheKey(name string, sizeBytes int64, durationSeconds float64) string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	return fmt.Sprintf("%s_%d_%d", base, sizeBytes, int64(math.Floor(durationSeconds)))
}

// CachedAnalysis is what round-trips through the cache.
type CachedAnalysis struct {
	Analysis *track.Analysis
	Timeline *track.Timeline // nil when the semantic pass never ran
}

// PutAnalysis upserts an analysis row. Writes are idempotent: the same
// key always converges to the latest payload.
func (d *DB) PutAnalysis(key, name string, sizeBytes int64, rec *CachedAnalysis) error {
	if rec == nil || rec.Analysis == nil {
		return errors.New("analysis is required")
	}

	analysisJSON, err := json.Marshal(rec.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	var timelineJSON sql.NullString
	if rec.Timeline != nil {
		data, err := json.Marshal(rec.Timeline)
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}
		timelineJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = d.db.Exec(`
		INSERT INTO analyses (cache_key, name, size_bytes, duration_seconds, analysis_json, timeline_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cache_key) DO UPDATE SET
			analysis_json = excluded.analysis_json,
			timeline_json = excluded.timeline_json,
			updated_at = CURRENT_TIMESTAMP
	`, key, name, sizeBytes, rec.Analysis.Duration, string(analysisJSON), timelineJSON)
	return err
}

// GetAnalysis fetches a cached analysis, (nil, nil) on a miss.
func (d *DB) GetAnalysis(key string) (*CachedAnalysis, error) {
	row := d.db.QueryRow(`
		SELECT analysis_json, timeline_json FROM analyses WHERE cache_key = ?
	`, key)

	var analysisJSON string
	var timelineJSON sql.NullString
	if err := row.Scan(&analysisJSON, &timelineJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rec := &CachedAnalysis{Analysis: &track.Analysis{}}
	if err := json.Unmarshal([]byte(analysisJSON), rec.Analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	if timelineJSON.Valid && timelineJSON.String != "" {
		rec.Timeline = &track.Timeline{}
		if err := json.Unmarshal([]byte(timelineJSON.String), rec.Timeline); err != nil {
			return nil, fmt.Errorf("unmarshal timeline: %w", err)
		}
	}
	return rec, nil
}
