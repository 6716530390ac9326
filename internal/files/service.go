package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/tasks"
)

// sniffLen is how much of an upload is read for content detection.
const sniffLen = 3072

// ErrTooLarge is returned for uploads over the size cap.
var ErrTooLarge = fmt.Errorf("%w: file too large", httpx.ErrValidation)

// TaskReader loads the task an attachment belongs to.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*tasks.Task, error)
}

// Service implements attachment operations.
type Service struct {
	repo     Repository
	blobs    BlobStore
	tasks    TaskReader
	enforcer *rbac.Enforcer
	logger   *slog.Logger
	maxBytes int64
}

// NewService constructs a Service. A non-positive maxBytes selects
// DefaultMaxBytes.
func NewService(repo Repository, blobs BlobStore, taskReader TaskReader, enforcer *rbac.Enforcer, logger *slog.Logger, maxBytes int64) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{repo: repo, blobs: blobs, tasks: taskReader, enforcer: enforcer, logger: logger, maxBytes: maxBytes}
}

// MaxBytes reports the upload cap.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores an attachment on a task.
func (s *Service) Upload(ctx context.Context, actor uuid.UUID, in Upload) (*File, error) {
	task, err := s.tasks.Get(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, task, rbac.CapUploadFile); err != nil {
		return nil, err
	}
	if in.Size > s.maxBytes {
		return nil, ErrTooLarge
	}
	name := cleanName(in.Filename)
	if name == "" || in.Content == nil {
		return nil, fmt.Errorf("%w: file required", httpx.ErrValidation)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), in.Content), s.maxBytes+1)

	key := fmt.Sprintf("%s/%s-%s", task.ID, uuid.NewString(), name)
	written, err := s.blobs.Put(ctx, key, body)
	if err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if written > s.maxBytes {
		s.discard(ctx, key)
		return nil, ErrTooLarge
	}

	f := &File{
		TaskID:      task.ID,
		UploadedBy:  actor,
		Filename:    name,
		Size:        written,
		ContentType: mimetype.Detect(head).String(),
		StoragePath: key,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// List returns a task's attachments.
func (s *Service) List(ctx context.Context, actor, taskID uuid.UUID) ([]File, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, task, rbac.CapViewTask); err != nil {
		return nil, err
	}
	return s.repo.ListByTask(ctx, taskID)
}

// Delete removes an attachment and its bytes.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	task, err := s.tasks.Get(ctx, f.TaskID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, task, rbac.CapDeleteFile); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.discard(ctx, f.StoragePath)
	return nil
}

// authorize requires capability on the task's project. Members are further
// limited to tasks assigned to them.
func (s *Service) authorize(ctx context.Context, actor uuid.UUID, task *tasks.Task, capability rbac.Capability) error {
	d := s.enforcer.Guard().RequireCapability(ctx, actor, rbac.ProjectScope(task.ProjectID), capability)
	_, err := s.enforcer.Admit(ctx, actor, tasks.RestrictToAssignee(d, actor, task))
	return err
}

func (s *Service) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("blob cleanup failed", slog.String("key", key), slog.Any("error", err))
	}
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.TrimSpace(name)
}
