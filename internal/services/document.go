package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// Upload limits. Indexable formats are decided by the processing backend;
// the service gates only size and extension.
const maxUploadBytes = 20 << 20

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".docx": true,
}

// DocumentService accepts uploads, tracks processing state and requests
// deletions. Backend side effects run asynchronously through the job outbox;
// this service only writes durable intent.
type DocumentService struct {
	store     store.Store
	uploadDir string
	log       zerolog.Logger
}

func NewDocumentService(s store.Store, uploadDir string, log zerolog.Logger) *DocumentService {
	return &DocumentService{
		store:     s,
		uploadDir: uploadDir,
		log:       log.With().Str("component", "documents").Logger(),
	}
}

// Upload stores the file on disk and registers a pending document. The store
// enqueues the processing job in the same transaction as the document row.
func (s *DocumentService) Upload(ctx context.Context, userID, filename string, r io.Reader) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, errors.Wrapf(model.ErrValidation, "unsupported file type %q", ext)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	// Disk name carries a fresh id so concurrent uploads of the same filename
	// never collide.
	path := filepath.Join(s.uploadDir, uuid.New().String()+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create upload file")
	}
	n, err := io.Copy(f, io.LimitReader(r, maxUploadBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "write upload file")
	}
	if n > maxUploadBytes {
		_ = os.Remove(path)
		return nil, errors.Wrapf(model.ErrValidation, "file exceeds %d bytes", maxUploadBytes)
	}
	if n == 0 {
		_ = os.Remove(path)
		return nil, errors.Wrap(model.ErrValidation, "file is empty")
	}

	doc, err := s.store.Documents().Create(ctx, &model.Document{
		UserID:   userID,
		Filename: filename,
		Filepath: path,
	})
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "register document")
	}
	s.log.Info().Str("document_id", doc.DocumentID).Str("user_id", userID).Int64("bytes", n).Msg("document uploaded")
	return doc, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, userID string) ([]*model.Document, error) {
	return s.store.Documents().List(ctx, userID)
}

// Delete removes the document row and its file; index cleanup happens through
// the enqueued delete job.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.store.Documents().Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return model.ErrForbidden
	}
	if err := s.store.Documents().Delete(ctx, documentID); err != nil {
		return err
	}
	if doc.Filepath != "" {
		if err := os.Remove(doc.Filepath); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("upload file cleanup failed")
		}
	}
	return nil
}
