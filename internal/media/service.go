package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/media/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

const sniffLen = 262

var (
	errNoFile  = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "No file found. Please add a file and try again!")
	errTooBig  = apperrors.New(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "File too large")
	errStorage = apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "Error creating media")
)

// Service stores uploads and their metadata.
type Service struct {
	repo    Repository
	objects storage.ObjectStore
	maxSize int64
	logger  *slog.Logger
}

// NewService wires the service. Uploads larger than maxSize are refused.
func NewService(repo Repository, objects storage.ObjectStore, maxSize int64) *Service {
	return &Service{
		repo:    repo,
		objects: objects,
		maxSize: maxSize,
		logger:  logger.WithComponent("media-service"),
	}
}

// Upload spools r to a temporary file (never more than maxSize+1 bytes),
// detects its type from magic bytes and stores it.
func (s *Service) Upload(ctx context.Context, userID, filename, declaredType string, r io.Reader) (*Media, error) {
	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	if size == 0 {
		return nil, errNoFile
	}
	if size > s.maxSize {
		return nil, errTooBig
	}

	head := make([]byte, sniffLen)
	n, err := tmp.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading upload header: %w", err)
	}
	mimeType, ext := detectType(head[:n], filename, declaredType)
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding spool file: %w", err)
	}

	m := &Media{
		ID:           uuid.NewString(),
		UserID:       userID,
		OriginalName: filepath.Base(filename),
		MimeType:     mimeType,
		Size:         size,
	}
	m.ObjectKey = "media/" + userID + "/" + m.ID + ext
	m.URL = s.objects.URL(m.ObjectKey)

	if err := s.objects.Put(ctx, m.ObjectKey, tmp, size, mimeType); err != nil {
		s.logger.Error("object upload failed", "key", m.ObjectKey, "error", err)
		return nil, errStorage
	}
	if err := s.repo.Create(ctx, m); err != nil {
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), m.ObjectKey); delErr != nil {
			s.logger.Warn("orphaned object after metadata failure", "key", m.ObjectKey, "error", delErr)
		}
		return nil, err
	}
	s.logger.Info("media uploaded", "media_id", m.ID, "user_id", userID, "mime_type", mimeType, "size", size)
	return m, nil
}

// List returns the most recent uploads.
func (s *Service) List(ctx context.Context) ([]Media, error) {
	return s.repo.List(ctx, 100)
}

// DeleteOwned removes media ids owned by userID. Objects go first and rows
// only for objects that are gone, so a failed call can simply be repeated.
// Missing ids are not an error.
func (s *Service) DeleteOwned(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	owned, err := s.repo.Owned(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	var (
		done   []string
		failed []string
	)
	for _, m := range owned {
		if err := s.objects.Delete(ctx, m.ObjectKey); err != nil {
			s.logger.Error("object delete failed", "key", m.ObjectKey, "error", err)
			failed = append(failed, m.ObjectKey)
			continue
		}
		done = append(done, m.ID)
	}
	if len(done) > 0 {
		if err := s.repo.Delete(ctx, done); err != nil {
			return 0, err
		}
	}
	if len(failed) > 0 {
		return len(done), fmt.Errorf("deleting objects %s", strings.Join(failed, ", "))
	}
	return len(done), nil
}

func detectType(head []byte, filename, declared string) (mimeType, ext string) {
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value, "." + kind.Extension
	}
	ext = strings.ToLower(filepath.Ext(filename))
	if declared != "" && declared != "application/octet-stream" {
		return declared, ext
	}
	return "application/octet-stream", ext
}
