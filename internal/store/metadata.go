package store

import (
	"database/sql"
	"errors"
	"time"
)

// Fingerprint is the recorded content hash of a dataset source.
type Fingerprint struct {
	DatasetKey string
	Path       string
	Hash       string
	Cases      int
	RecordedAt time.Time
}

// GetFingerprint returns the last recorded fingerprint for a dataset.
// Returns nil and nil error if none was recorded.
func (s *Store) GetFingerprint(datasetKey string) (*Fingerprint, error) {
	var fp Fingerprint
	err := s.db.QueryRow(
		`SELECT dataset_key, path, hash, cases, recorded_at FROM dataset_fingerprints WHERE dataset_key = ?`,
		datasetKey,
	).Scan(&fp.DatasetKey, &fp.Path, &fp.Hash, &fp.Cases, &fp.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

// SetFingerprint upserts the fingerprint of a dataset.
func (s *Store) SetFingerprint(fp Fingerprint) error {
	if fp.RecordedAt.IsZero() {
		fp.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO dataset_fingerprints (dataset_key, path, hash, cases, recorded_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(dataset_key) DO UPDATE SET path = ?, hash = ?, cases = ?, recorded_at = ?`,
		fp.DatasetKey, fp.Path, fp.Hash, fp.Cases, fp.RecordedAt,
		fp.Path, fp.Hash, fp.Cases, fp.RecordedAt,
	)
	return err
}

// SetMetadata upserts a key-value pair in the rater_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO rater_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM rater_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
