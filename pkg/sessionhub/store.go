package sessionhub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/internal/tracing"
	"github.com/hfaried/parley/pkg/chat"
)

// maxLineSize bounds one transcript record. Long assistant replies
// exceed bufio.Scanner's default token limit, so the buffer is raised
// explicitly.
const maxLineSize = 1024 * 1024

// transcriptEntry is one JSONL record: the message plus the session
// key it belongs to, so a stray file still identifies itself.
type transcriptEntry struct {
	SessionKey string       `json:"sessionKey"`
	Message    chat.Message `json:"message"`
}

// ValidateKey rejects session keys that could traverse the filesystem.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

// Store persists session transcripts as one JSONL file per session.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates the transcript store rooted at dir, defaulting to
// ~/.parley/sessions.
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".parley", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Transcript store initialized")

	return &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[key] = lock
	return lock
}

func (s *Store) releaseLock(key string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, key)
}

// Append writes one message record with O_APPEND and syncs it to disk.
func (s *Store) Append(ctx context.Context, key string, msg chat.Message) error {
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"parley.sessionhub",
		"store.append",
		attribute.String("session_key", key),
		attribute.String("role", msg.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", key).Logger()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return fmt.Errorf("message must carry content or tool calls")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(transcriptEntry{SessionKey: key, Message: msg})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().Str("role", msg.Role).Msg("Message appended")
	return nil
}

// Load reads a session's transcript in order. A missing file is an
// empty transcript; corrupt lines are skipped with a warning so one
// bad record never loses the session.
func (s *Store) Load(ctx context.Context, key string) ([]chat.Message, error) {
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"parley.sessionhub",
		"store.load",
		attribute.String("session_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", key).Logger()

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var messages []chat.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry transcriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}

		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("messages", len(messages)).Msg("Transcript loaded")
	return messages, nil
}

// Rewrite atomically replaces a session's transcript with the given
// messages, via temp file and rename. Used after pruning and clearing.
func (s *Store) Rewrite(ctx context.Context, key string, msgs []chat.Message) error {
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"parley.sessionhub",
		"store.rewrite",
		attribute.String("session_key", key),
		attribute.Int("messages", len(msgs)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := s.path(key)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, msg := range msgs {
		data, err := json.Marshal(transcriptEntry{SessionKey: key, Message: msg})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().Str("session_key", key).Int("messages", len(msgs)).Msg("Transcript rewritten")
	return nil
}

// Delete removes a session's transcript. Missing files are fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx = tracing.WithSessionKey(ctx, key)
	_, span := tracing.StartSpan(
		ctx,
		"parley.sessionhub",
		"store.delete",
		attribute.String("session_key", key),
	)
	defer span.End()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := s.lockFor(key)
	lock.Lock()
	err := os.Remove(s.path(key))
	lock.Unlock()

	if err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.releaseLock(key)
	log.Info().Str("session_key", key).Msg("Transcript deleted")
	return nil
}

// List returns the keys of every persisted session.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	return keys, nil
}

// Close drops all per-session locks.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return nil
}
