package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"MorningCall/internal/plan"
	"MorningCall/internal/session"

	"github.com/google/uuid"
)

// Stable keys, one per logical collection
const (
	KeyInstructions = "morning_assistant_instructions"
	KeyCallLogs     = "morning_assistant_call_logs"
	KeyAPIKey       = "morning_assistant_openai_key"
	KeyPlan         = "morning_assistant_user_plan"
)

// Store exposes the four persisted collections on top of a Backend.
// Each collection is serialized independently; last write wins.
type Store struct {
	backend Backend
	logger  *slog.Logger
	mu      sync.Mutex // serializes read-modify-write cycles in this process
}

// New creates a Store over backend
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Close closes the underlying backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) write(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, key, value); err != nil {
		s.logger.Error("storage write failed", "key", key, "error", err)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}

func readJSON[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func writeJSON[T any](ctx context.Context, s *Store, key string, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %w", ErrStorageWrite, key, err)
	}
	return s.write(ctx, key, string(data))
}

// Instructions returns the stored instructions in insertion order.
// Nothing stored yields an empty slice.
func (s *Store) Instructions(ctx context.Context) ([]session.Instruction, error) {
	return readJSON[session.Instruction](ctx, s, KeyInstructions)
}

// SaveInstructions replaces the whole instruction collection
func (s *Store) SaveInstructions(ctx context.Context, instructions []session.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(ctx, s, KeyInstructions, instructions)
}

// AddInstruction appends inst with a freshly assigned id
func (s *Store) AddInstruction(ctx context.Context, inst session.Instruction) (session.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.Instructions(ctx)
	if err != nil {
		return session.Instruction{}, err
	}
	inst.ID = uuid.NewString()
	all = append(all, inst)
	if err := writeJSON(ctx, s, KeyInstructions, all); err != nil {
		return session.Instruction{}, err
	}
	s.logger.Info("instruction added", "id", inst.ID, "order", inst.Order)
	return inst, nil
}

// UpdateInstruction applies fn to the instruction with the given id.
// The id itself cannot be changed.
func (s *Store) UpdateInstruction(ctx context.Context, id string, fn func(*session.Instruction)) (session.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.Instructions(ctx)
	if err != nil {
		return session.Instruction{}, err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		fn(&all[i])
		all[i].ID = id
		if err := writeJSON(ctx, s, KeyInstructions, all); err != nil {
			return session.Instruction{}, err
		}
		return all[i], nil
	}
	return session.Instruction{}, fmt.Errorf("instruction %s: %w", id, ErrNotFound)
}

// DeleteInstruction removes the instruction with the given id
func (s *Store) DeleteInstruction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.Instructions(ctx)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, inst := range all {
		if inst.ID != id {
			kept = append(kept, inst)
		}
	}
	if len(kept) == len(all) {
		return fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	return writeJSON(ctx, s, KeyInstructions, kept)
}

// CallLogs returns all call logs, newest first
func (s *Store) CallLogs(ctx context.Context) ([]session.CallLog, error) {
	return readJSON[session.CallLog](ctx, s, KeyCallLogs)
}

// SaveCallLog assigns an id to entry and prepends it to the log collection
func (s *Store) SaveCallLog(ctx context.Context, entry session.CallLog) (session.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := s.CallLogs(ctx)
	if err != nil {
		return session.CallLog{}, err
	}
	entry.ID = uuid.NewString()
	logs = append([]session.CallLog{entry}, logs...)
	if err := writeJSON(ctx, s, KeyCallLogs, logs); err != nil {
		return session.CallLog{}, err
	}
	s.logger.Info("call log saved", "id", entry.ID, "duration", entry.Duration, "turns", len(entry.Conversation))
	return entry, nil
}

// APIKey returns the stored credential, or "" if none
func (s *Store) APIKey(ctx context.Context) (string, error) {
	key, _, err := s.backend.Get(ctx, KeyAPIKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// SaveAPIKey stores the credential
func (s *Store) SaveAPIKey(ctx context.Context, key string) error {
	return s.write(ctx, KeyAPIKey, strings.TrimSpace(key))
}

// DeleteAPIKey forgets the credential
func (s *Store) DeleteAPIKey(ctx context.Context) error {
	if err := s.backend.Delete(ctx, KeyAPIKey); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}

// Plan returns the selected plan; unset or unknown values fall back to plan.Default
func (s *Store) Plan(ctx context.Context) (plan.ID, error) {
	raw, ok, err := s.backend.Get(ctx, KeyPlan)
	if err != nil {
		return plan.Default, err
	}
	if !ok {
		return plan.Default, nil
	}
	id, err := plan.Parse(raw)
	if err != nil {
		s.logger.Warn("stored plan is invalid, using default", "plan", raw, "error", err)
		return plan.Default, nil
	}
	return id, nil
}

// SetPlan stores the selected plan
func (s *Store) SetPlan(ctx context.Context, id plan.ID) error {
	if _, err := plan.EntitlementsFor(id); err != nil {
		return err
	}
	return s.write(ctx, KeyPlan, string(id))
}
