package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

const shadowPrefix = "shadow:"

// ShadowStore persists the edit shadows of each conversation as one JSON
// record under shadow:<conversationID>.
type ShadowStore struct {
	store Store
}

// NewShadowStore wraps store.
func NewShadowStore(store Store) *ShadowStore {
	return &ShadowStore{store: store}
}

// ShadowKey returns the storage key of a conversation's shadow record.
func ShadowKey(conversationID string) string {
	return shadowPrefix + conversationID
}

// Load returns the persisted shadows of a conversation; an absent record is an
// empty set.
func (s *ShadowStore) Load(conversationID string) (chat.ShadowSet, error) {
	raw, err := s.store.Get(ShadowKey(conversationID))
	if errors.Is(err, ErrNotFound) {
		return chat.ShadowSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load shadows for %s: %w", conversationID, err)
	}

	set := chat.ShadowSet{}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode shadows for %s: %w", conversationID, err)
	}
	return set, nil
}

// Save replaces the persisted shadows of a conversation. An empty set removes
// the record.
func (s *ShadowStore) Save(conversationID string, set chat.ShadowSet) error {
	if len(set) == 0 {
		return s.store.Delete(ShadowKey(conversationID))
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode shadows for %s: %w", conversationID, err)
	}
	return s.store.Set(ShadowKey(conversationID), raw)
}

// Prune removes every shadow edited before cutoff across all conversations
// and returns how many entries were dropped.
func (s *ShadowStore) Prune(cutoff time.Time) (int, error) {
	entries, err := s.store.Scan(shadowPrefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		conversationID := strings.TrimPrefix(entry.Key, shadowPrefix)
		set := chat.ShadowSet{}
		if err := json.Unmarshal(entry.Value, &set); err != nil {
			// unreadable records cannot be applied either
			if err := s.store.Delete(entry.Key); err != nil {
				return removed, err
			}
			continue
		}

		before := len(set)
		for id, shadow := range set {
			if shadow.EditedAt.Before(cutoff) {
				delete(set, id)
			}
		}
		if len(set) == before {
			continue
		}
		removed += before - len(set)
		if err := s.Save(conversationID, set); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
