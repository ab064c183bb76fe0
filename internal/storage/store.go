package storage

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Store composes the persistence targets for finalized transcripts: local
// files, the SQLite metadata DB, and an optional Drive archive. It is the
// handoff point where segment ownership leaves the in-memory pipeline.
type Store struct {
	local   *LocalStorage
	db      *MetadataDB
	archive *DriveArchive // nil when not configured
	log     *logrus.Entry
}

// NewStore builds the composite store. archive may be nil.
func NewStore(local *LocalStorage, db *MetadataDB, archive *DriveArchive, log *logrus.Entry) *Store {
	return &Store{
		local:   local,
		db:      db,
		archive: archive,
		log:     log,
	}
}

// SaveTranscript persists a finalized transcript. The local write is
// retried with exponential backoff and must succeed; the archive upload is
// best-effort and never fails the handoff.
func (s *Store) SaveTranscript(t *types.FinalizedTranscript) error {
	var localPath string

	save := func() error {
		var err error
		localPath, err = s.local.SaveTranscript(t)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(save, bo); err != nil {
		return fmt.Errorf("local save failed: %v", err)
	}

	archiveURL := ""
	if s.archive != nil {
		upload := func() error {
			var err error
			archiveURL, err = s.archive.Upload(t)
			return err
		}
		abo := backoff.NewExponentialBackOff()
		abo.MaxElapsedTime = 30 * time.Second
		if err := backoff.Retry(upload, abo); err != nil {
			s.log.WithError(err).WithField("recording_id", t.RecordingID).
				Warn("archive upload failed, continuing with local save only")
			archiveURL = ""
		}
	}

	if s.db != nil {
		if err := s.db.SaveTranscript(t, localPath, archiveURL); err != nil {
			s.log.WithError(err).WithField("recording_id", t.RecordingID).
				Warn("metadata save failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"recording_id": t.RecordingID,
		"local_path":   localPath,
		"archived":     archiveURL != "",
	}).Info("finalized transcript persisted")
	return nil
}
