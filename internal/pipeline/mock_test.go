package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/model"
	"github.com/sells-group/mailtriage/internal/store"
	"github.com/sells-group/mailtriage/pkg/anthropic"
)

// mockClient implements anthropic.Client with a configurable generate hook.
type mockClient struct {
	mu       sync.Mutex
	calls    []mockCall
	generate func(model, system, prompt string) (string, error)
}

type mockCall struct {
	Model  string
	Prompt string
}

func (m *mockClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	text, err := m.record(req.Model, req.System, req.Messages[0].Content)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 10, OutputTokens: 20},
	}, nil
}

func (m *mockClient) Generate(_ context.Context, model, system, prompt string, _ time.Duration) (string, anthropic.TokenUsage, error) {
	text, err := m.record(model, system, prompt)
	if err != nil {
		return "", anthropic.TokenUsage{}, err
	}
	return text, anthropic.TokenUsage{InputTokens: 10, OutputTokens: 20}, nil
}

func (m *mockClient) record(model, system, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Model: model, Prompt: prompt})
	m.mu.Unlock()
	return m.generate(model, system, prompt)
}

func (m *mockClient) callsFor(modelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Model == modelID {
			n++
		}
	}
	return n
}

// memStore is an in-memory store.Store for orchestrator and stage tests.
type memStore struct {
	mu         sync.Mutex
	executions map[string]*model.ExecutionRecord
	order      []string
	snapshots  map[string]map[int][]byte
	records    map[string][]model.ConsolidatedRecord

	failSnapshots bool
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[string]*model.ExecutionRecord),
		snapshots:  make(map[string]map[int][]byte),
		records:    make(map[string][]model.ConsolidatedRecord),
	}
}

func (s *memStore) CreateExecution(context.Context) (*model.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &model.ExecutionRecord{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.ExecutionStatusRunning,
	}
	s.executions[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	cp := *rec
	return &cp, nil
}

func (s *memStore) GetExecution(_ context.Context, id string) (*model.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) LatestExecution(context.Context) (*model.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *s.executions[s.order[len(s.order)-1]]
	return &cp, nil
}

func (s *memStore) ListExecutions(_ context.Context, limit int) ([]model.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExecutionRecord
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *s.executions[s.order[i]])
	}
	return out, nil
}

func (s *memStore) UpdateStageCount(_ context.Context, id string, stage, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	switch stage {
	case model.StageTriage:
		if count > rec.Stage1Count {
			rec.Stage1Count = count
		}
	case model.StageContextual:
		if count > rec.Stage2Count {
			rec.Stage2Count = count
		}
	case model.StageCritical:
		if count > rec.Stage3Count {
			rec.Stage3Count = count
		}
	}
	return nil
}

func (s *memStore) CompleteExecution(_ context.Context, id string) error {
	return s.finalize(id, model.ExecutionStatusCompleted, "")
}

func (s *memStore) FailExecution(_ context.Context, id string, msg string) error {
	return s.finalize(id, model.ExecutionStatusFailed, msg)
}

func (s *memStore) finalize(id string, status model.ExecutionStatus, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok || rec.Terminal() {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.ErrorMessage = msg
	rec.CompletedAt = &now
	return nil
}

func (s *memStore) SaveSnapshot(_ context.Context, executionID string, stage int, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSnapshots {
		return eris.New("snapshot write refused")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if s.snapshots[executionID] == nil {
		s.snapshots[executionID] = make(map[int][]byte)
	}
	s.snapshots[executionID][stage] = data
	return nil
}

func (s *memStore) LoadSnapshot(_ context.Context, executionID string, stage int, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.snapshots[executionID][stage]
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (s *memStore) SaveConsolidated(_ context.Context, executionID string, records []model.ConsolidatedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[executionID] = append([]model.ConsolidatedRecord(nil), records...)
	return nil
}

func (s *memStore) ListConsolidated(_ context.Context, executionID string, limit int) ([]model.ConsolidatedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.ConsolidatedRecord(nil), s.records[executionID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func (s *memStore) snapshotCount(executionID string, stage int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []json.RawMessage
	if data, ok := s.snapshots[executionID][stage]; ok {
		_ = json.Unmarshal(data, &items)
	}
	return len(items)
}

// memSource is an in-memory mailbox.Source.
type memSource struct {
	emails []model.EmailRecord
	err    error
}

func (s *memSource) GetAllEmails(context.Context) ([]model.EmailRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.emails, nil
}
