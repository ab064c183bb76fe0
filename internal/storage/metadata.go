package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// MetadataDB persists finalized transcript metadata in SQLite.
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB opens (creating if needed) the metadata database.
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recording_id TEXT NOT NULL,
		local_path TEXT NOT NULL,
		archive_url TEXT,
		language TEXT,
		duration REAL,
		word_count INTEGER,
		segment_count INTEGER,
		finalized_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_recording_id ON transcripts(recording_id);
	CREATE INDEX IF NOT EXISTS idx_transcripts_finalized_at ON transcripts(finalized_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create table: %v", err)
	}

	return &MetadataDB{db: db}, nil
}

// SaveTranscript records a finalized transcript's metadata.
func (mdb *MetadataDB) SaveTranscript(t *types.FinalizedTranscript, localPath, archiveURL string) error {
	query := `
	INSERT INTO transcripts (recording_id, local_path, archive_url, language, duration, word_count, segment_count, finalized_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := mdb.db.Exec(query, t.RecordingID, localPath, archiveURL, t.Language,
		t.Duration, t.WordCount, len(t.Segments), t.FinalizedAt)
	if err != nil {
		return fmt.Errorf("failed to save transcript metadata: %v", err)
	}
	return nil
}

// TranscriptRecord is one persisted transcript row.
type TranscriptRecord struct {
	RecordingID  string    `json:"recording_id"`
	LocalPath    string    `json:"local_path"`
	ArchiveURL   string    `json:"archive_url,omitempty"`
	Language     string    `json:"language,omitempty"`
	Duration     float64   `json:"duration"`
	WordCount    int       `json:"word_count"`
	SegmentCount int       `json:"segment_count"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// GetTranscript retrieves the most recent record for a recording.
func (mdb *MetadataDB) GetTranscript(recordingID string) (*TranscriptRecord, error) {
	query := `
	SELECT recording_id, local_path, archive_url, language, duration, word_count, segment_count, finalized_at
	FROM transcripts WHERE recording_id = ? ORDER BY finalized_at DESC LIMIT 1
	`

	var rec TranscriptRecord
	var archiveURL, language sql.NullString
	err := mdb.db.QueryRow(query, recordingID).Scan(&rec.RecordingID, &rec.LocalPath,
		&archiveURL, &language, &rec.Duration, &rec.WordCount, &rec.SegmentCount, &rec.FinalizedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %v", err)
	}
	rec.ArchiveURL = archiveURL.String
	rec.Language = language.String
	return &rec, nil
}

// ListTranscripts returns the most recent records, newest first.
func (mdb *MetadataDB) ListTranscripts(limit int) ([]TranscriptRecord, error) {
	query := `
	SELECT recording_id, local_path, archive_url, language, duration, word_count, segment_count, finalized_at
	FROM transcripts ORDER BY finalized_at DESC LIMIT ?
	`

	rows, err := mdb.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %v", err)
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var rec TranscriptRecord
		var archiveURL, language sql.NullString
		if err := rows.Scan(&rec.RecordingID, &rec.LocalPath, &archiveURL, &language,
			&rec.Duration, &rec.WordCount, &rec.SegmentCount, &rec.FinalizedAt); err != nil {
			continue
		}
		rec.ArchiveURL = archiveURL.String
		rec.Language = language.String
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the database connection.
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
