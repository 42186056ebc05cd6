package calllog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

var (
	ErrAgentRequired = errors.New("agent id is required")
	ErrEntryNotFound = errors.New("call log entry not found")
	ErrEntryClosed   = errors.New("call log entry already ended")
)

// Service 内存中的通话记录，进程退出即丢失。
type Service struct {
	mu      sync.RWMutex
	entries map[string]model.CallLogEntry
	now     func() time.Time
}

// NewService 创建通话记录服务
func NewService() *Service {
	return &Service{
		entries: make(map[string]model.CallLogEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start 在对话开始时创建一条 started 记录并返回其 ID。
func (s *Service) Start(_ context.Context, entry model.CallLogEntry) (string, error) {
	if strings.TrimSpace(entry.AgentID) == "" {
		return "", ErrAgentRequired
	}

	now := s.now()
	entry.ID = uuid.NewString()
	entry.Status = model.CallStarted
	entry.StartedAt = now
	entry.UpdatedAt = now
	entry.EndedAt = nil
	if entry.Mode == "" {
		entry.Mode = model.ModeStream
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()

	return entry.ID, nil
}

// Update 部分更新。进入 completed/failed 后记录不再变化。
func (s *Service) Update(_ context.Context, id string, update model.CallLogUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if entry.EndedAt != nil {
		return ErrEntryClosed
	}

	now := s.now()
	if update.ExchangeCount != nil {
		entry.ExchangeCount = *update.ExchangeCount
	}
	if update.Transcription != nil {
		entry.Transcription = *update.Transcription
	}
	if update.Response != nil {
		entry.Response = *update.Response
	}
	if update.Error != nil {
		entry.Error = *update.Error
	}
	if update.Status != nil {
		entry.Status = *update.Status
		if entry.Status != model.CallStarted {
			entry.EndedAt = &now
		}
	}
	entry.UpdatedAt = now

	s.entries[id] = entry
	return nil
}

// Get 按 ID 查询
func (s *Service) Get(_ context.Context, id string) (model.CallLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return model.CallLogEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// List 按开始时间倒序返回，agentID 为空时返回全部
func (s *Service) List(_ context.Context, agentID string) []model.CallLogEntry {
	s.mu.RLock()
	out := make([]model.CallLogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if agentID != "" && entry.AgentID != agentID {
			continue
		}
		out = append(out, entry)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
