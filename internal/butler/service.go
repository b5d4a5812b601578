// Package butler turns task proposals into scheduled work and keeps the
// conversation record of what was dispatched.
package butler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Antony-Jia/butler/internal/persistence"
	"github.com/Antony-Jia/butler/internal/proposal"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

// Conversation is the history key dispatch replies are stored under.
const Conversation = "butler"

// Submitter accepts validated batches. Implemented by *scheduler.Scheduler.
type Submitter interface {
	Submit(ctx context.Context, descs []scheduler.Descriptor) (*scheduler.BatchResult, error)
}

// History stores the dispatch conversation. Implemented by persistence.SQLiteStore.
type History interface {
	SaveMessage(ctx context.Context, conversation, role, content string) error
	GetHistory(ctx context.Context, conversation string) ([]persistence.ConversationTurn, error)
}

// BatchNotifier is told about every accepted or rejected batch.
// Implemented by events.Notifier.
type BatchNotifier interface {
	BatchAccepted(res *scheduler.BatchResult, source string)
	BatchRejected(reason, source string)
}

// Service is the dispatch entry point shared by the CLI and the inbox watcher.
type Service struct {
	sched    Submitter
	history  History
	notifier BatchNotifier
	logger   *slog.Logger
}

var (
	_ proposal.Submitter = (*Service)(nil)
	_ proposal.Rejecter  = (*Service)(nil)
)

// NewService creates a Service. history and notifier may be nil.
func NewService(sched Submitter, history History, notifier BatchNotifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		sched:    sched,
		history:  history,
		notifier: notifier,
		logger:   logger,
	}
}

// Dispatch decodes a proposal document and submits it. The reply text is
// returned alongside the result; on rejection it explains why.
func (s *Service) Dispatch(ctx context.Context, source string, data []byte) (string, *scheduler.BatchResult, error) {
	descs, err := proposal.Decode(data)
	if err != nil {
		return s.reject(ctx, source, err), nil, err
	}

	res, err := s.submit(ctx, source, descs)
	if err != nil {
		return s.reject(ctx, source, err), nil, err
	}
	return FormatReply(res), res, nil
}

// SubmitBatch implements proposal.Submitter.
func (s *Service) SubmitBatch(ctx context.Context, source string, descs []scheduler.Descriptor) (*scheduler.BatchResult, error) {
	res, err := s.submit(ctx, source, descs)
	if err != nil {
		s.reject(ctx, source, err)
		return nil, err
	}
	return res, nil
}

// RejectBatch implements proposal.Rejecter for inbox files that fail to decode.
func (s *Service) RejectBatch(ctx context.Context, source string, err error) {
	s.reject(ctx, source, err)
}

// History returns the dispatch conversation, oldest first.
func (s *Service) History(ctx context.Context) ([]persistence.ConversationTurn, error) {
	if s.history == nil {
		return []persistence.ConversationTurn{}, nil
	}
	return s.history.GetHistory(ctx, Conversation)
}

func (s *Service) submit(ctx context.Context, source string, descs []scheduler.Descriptor) (*scheduler.BatchResult, error) {
	res, err := s.sched.Submit(ctx, descs)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dispatched batch", "source", source, "groupID", res.GroupID, "tasks", len(res.Tasks))
	if s.notifier != nil {
		s.notifier.BatchAccepted(res, source)
	}
	s.record(ctx, FormatReply(res))
	return res, nil
}

func (s *Service) reject(ctx context.Context, source string, err error) string {
	reason := err.Error()
	level := slog.LevelWarn
	var batchErr *scheduler.BatchError
	if !errors.As(err, &batchErr) && !errors.Is(err, proposal.ErrInvalidProposal) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "batch rejected", "source", source, "error", reason)

	if s.notifier != nil {
		s.notifier.BatchRejected(reason, source)
	}
	reply := fmt.Sprintf("Dispatch rejected (%s): %s", source, reason)
	s.record(ctx, reply)
	return reply
}

func (s *Service) record(ctx context.Context, reply string) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveMessage(ctx, Conversation, "assistant", reply); err != nil {
		s.logger.Warn("failed to save dispatch reply", "error", err)
	}
}
