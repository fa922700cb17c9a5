// Package session owns one user's conversation with the assistant: the
// append-only turn log, the single media attachment, and the orchestration
// of analyze and refinement calls against the inference client.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugreel/api/schemas"
	"github.com/xkilldash9x/bugreel/internal/config"
	"github.com/xkilldash9x/bugreel/internal/media"
	"github.com/xkilldash9x/bugreel/internal/prompt"
	"github.com/xkilldash9x/bugreel/internal/report"
)

// ErrBusy is returned when a call is attempted while another analysis or
// refinement is still in flight. Only one call per session runs at a time;
// the presentation layer uses InProgress to prevent a second submission.
var ErrBusy = errors.New("an analysis is already in progress")

// ErrMediaAttached is returned by AttachRecording when the session already
// holds its one allowed media attachment.
var ErrMediaAttached = errors.New("a recording is already attached to this session")

// Session holds the state for one analysis conversation. Sessions are not
// shared: each owns its history and media reference exclusively, so no
// cross-session locking exists anywhere in the package.
type Session struct {
	logger      *zap.Logger
	client      schemas.LLMClient
	code        string
	model       string
	temperature float64

	mu         sync.Mutex
	attachment *schemas.InlineData // Encoded once, reused verbatim on every call.
	history    []schemas.ChatEntry
	inProgress bool
}

// New creates a session for the given code snippet. modelPreference is the
// model identifier requests are issued against; empty selects the
// configured premium model.
func New(logger *zap.Logger, client schemas.LLMClient, cfg config.LLMConfig, code, modelPreference string) *Session {
	model := modelPreference
	if model == "" {
		model = cfg.PremiumModel
	}
	return &Session{
		logger:      logger.Named("session"),
		client:      client,
		code:        code,
		model:       model,
		temperature: cfg.Temperature,
	}
}

// AttachRecording encodes the recording at path and stores the result for
// reuse across every call in this session. At most one attachment exists
// per session; the encoded part is never re-derived.
func (s *Session) AttachRecording(path, declaredMIME string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return ErrBusy
	}
	if s.attachment != nil {
		return ErrMediaAttached
	}
	data, err := media.EncodeFile(path, declaredMIME)
	if err != nil {
		return err
	}
	s.attachment = data
	s.logger.Info("Recording attached",
		zap.String("path", path),
		zap.String("mime_type", data.MIMEType),
		zap.Int("encoded_bytes", len(data.Data)),
	)
	return nil
}

// InProgress reports whether an analysis or refinement call is in flight.
func (s *Session) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// Transcript returns a copy of the ordered conversation log.
func (s *Session) Transcript() []schemas.ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.ChatEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Reset discards the conversation and media attachment. The session can
// then be reused for a fresh analysis of the same code.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.attachment = nil
}

// Analyze runs the initial analysis call. The first entry recorded is a
// synthetic user entry describing the action taken, generated locally; it
// stays in the log even when the call fails, and no model entry is
// appended on failure.
func (s *Session) Analyze(ctx context.Context) (*schemas.BugReport, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	action := "Analyze this code."
	if s.hasMedia() {
		action = "Analyze this screen recording and code."
	}
	s.append(userEntry(action))

	return s.dispatch(ctx, s.historyBefore(1))
}

// Refine runs one refinement turn: the literal feedback is appended as a
// user entry and the whole accumulated history, feedback included, is
// replayed into the next call.
func (s *Session) Refine(ctx context.Context, feedback string) (*schemas.BugReport, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	if len(s.Transcript()) == 0 {
		return nil, fmt.Errorf("cannot refine before an initial analysis")
	}
	s.append(userEntry(feedback))

	return s.dispatch(ctx, s.historyBefore(0))
}

// dispatch assembles the prompt from the given history view, issues the
// generation call, and on success appends the decoded report as a model
// entry.
func (s *Session) dispatch(ctx context.Context, history []schemas.ChatEntry) (*schemas.BugReport, error) {
	promptText, err := prompt.Assemble(s.code, s.hasMedia(), history)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble prompt: %w", err)
	}

	var parts []schemas.Part
	if attachment := s.mediaPart(); attachment != nil {
		parts = append(parts, schemas.MediaPart(attachment))
	}
	parts = append(parts, schemas.TextPart(promptText))

	req := schemas.GenerationRequest{
		Model:             s.model,
		Parts:             parts,
		SystemInstruction: prompt.SystemInstruction,
		ResponseSchema:    schemas.BugReportResponseSchema(),
		Temperature:       s.temperature,
	}

	raw, err := s.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	rpt, err := report.Decode(raw)
	if err != nil {
		return nil, err
	}

	s.append(modelEntry(rpt))
	return rpt, nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return ErrBusy
	}
	s.inProgress = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()
}

func (s *Session) hasMedia() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment != nil
}

func (s *Session) mediaPart() *schemas.InlineData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// append records a new entry, clamping its timestamp so creation times
// never decrease even if the wall clock steps backwards.
func (s *Session) append(entry schemas.ChatEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 && entry.Timestamp.Before(s.history[n-1].Timestamp) {
		entry.Timestamp = s.history[n-1].Timestamp
	}
	s.history = append(s.history, entry)
}

// historyBefore returns a copy of the log excluding the last skipTail
// entries. The initial analysis replays nothing (its synthetic entry is
// display-only); refinement replays everything including the feedback.
func (s *Session) historyBefore(skipTail int) []schemas.ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history) - skipTail
	if n < 0 {
		n = 0
	}
	out := make([]schemas.ChatEntry, n)
	copy(out, s.history[:n])
	return out
}

func userEntry(text string) schemas.ChatEntry {
	return schemas.ChatEntry{
		ID:        uuid.NewString(),
		Role:      schemas.RoleUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func modelEntry(rpt *schemas.BugReport) schemas.ChatEntry {
	return schemas.ChatEntry{
		ID:        uuid.NewString(),
		Role:      schemas.RoleModel,
		Report:    rpt,
		Timestamp: time.Now().UTC(),
	}
}
