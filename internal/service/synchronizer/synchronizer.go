// Package synchronizer keeps the message thread of one conversation
// consistent with the remote API under optimistic send, edit and delete.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

var (
	ErrNoConversation = errors.New("no conversation bound")
	ErrEmptyText      = errors.New("message text is empty")
	ErrNoRecipient    = errors.New("recipient is required")
	ErrNoUser         = errors.New("no signed-in user")
	ErrNoMessageID    = errors.New("message id is required")
)

// Remote is the message API the synchronizer talks to. *api.Client
// satisfies it.
type Remote interface {
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, req chat.SendRequest) error
	EditMessage(ctx context.Context, messageID string, req chat.EditRequest) error
	DeleteMessage(ctx context.Context, messageID string, req chat.DeleteRequest) error
}

// Identity resolves the local user. *session.Session satisfies it.
type Identity interface {
	UserID() string
}

// ShadowStore loads and saves the edit shadows of a conversation.
// *storage.ShadowStore satisfies it.
type ShadowStore interface {
	Load(conversationID string) (chat.ShadowSet, error)
	Save(conversationID string, set chat.ShadowSet) error
}

// Snapshot is the displayed state after a change. Version grows with every
// change so observers can drop snapshots delivered out of order.
type Snapshot struct {
	Version        uint64
	ConversationID string
	Messages       []chat.Message
	Err            error
	Loading        bool
}

// Synchronizer is bound to at most one conversation at a time. The displayed
// list is the last authoritative fetch minus pending deletes plus pending
// sends, with edit shadows applied. The lock is never held across a remote
// call.
type Synchronizer struct {
	remote   Remote
	identity Identity
	shadows  ShadowStore
	now      func() time.Time

	mu             sync.Mutex
	conversationID string
	binding        uint64 // bumped by Bind
	generation     uint64 // bumped by Bind and Fetch
	version        uint64
	base           []chat.Message
	pending        []chat.Message
	hidden         map[string]int
	shadowSet      chat.ShadowSet
	err            error
	loading        bool

	observers map[int]func(Snapshot)
	nextObs   int
	persistMu sync.Mutex
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New creates an unbound synchronizer.
func New(remote Remote, identity Identity, shadows ShadowStore, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		remote:    remote,
		identity:  identity,
		shadows:   shadows,
		now:       time.Now,
		hidden:    make(map[string]int),
		shadowSet: chat.ShadowSet{},
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a func that unregisters it.
func (s *Synchronizer) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// ConversationID returns the bound conversation or "".
func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the displayed list.
func (s *Synchronizer) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayedLocked()
}

// Err returns the last recorded remote failure.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Loading reports whether the latest fetch is still in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot returns the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Bind switches to conversationID, discarding all in-memory state and
// reloading that conversation's persisted edit shadows. Responses to requests
// issued before the switch are ignored. Binding the current conversation is
// a no-op; binding "" unbinds.
func (s *Synchronizer) Bind(conversationID string) error {
	s.mu.Lock()
	if conversationID == s.conversationID {
		s.mu.Unlock()
		return nil
	}
	s.conversationID = conversationID
	s.binding++
	s.generation++
	s.base = nil
	s.pending = nil
	s.hidden = make(map[string]int)
	s.shadowSet = chat.ShadowSet{}
	s.err = nil
	s.loading = false

	// local storage only, so the load happens under the lock
	var loadErr error
	if conversationID != "" && s.shadows != nil {
		loaded, err := s.shadows.Load(conversationID)
		if err != nil {
			loadErr = err
			s.err = err
		} else if loaded != nil {
			s.shadowSet = loaded
		}
	}
	shadows := len(s.shadowSet)
	snap := s.changedLocked()
	s.mu.Unlock()

	if loadErr != nil {
		logger.Log.Warn("shadow_load_failed", zap.String("conversation", conversationID), zap.Error(loadErr))
	}
	logger.Log.Debug("conversation_bound", zap.String("conversation", conversationID), zap.Int("shadows", shadows))
	s.publish(snap)
	return loadErr
}

// Fetch replaces the authoritative list with the server's. It does nothing
// when no conversation is bound. On failure the authoritative list is
// cleared and the error recorded. A response that arrives after a newer
// Fetch or Bind is discarded.
func (s *Synchronizer) Fetch(ctx context.Context) error {
	return s.fetch(ctx, 0, false)
}

// refetch is the Fetch that follows a successful mutation. It does nothing
// once the conversation the mutation was issued for is no longer bound.
func (s *Synchronizer) refetch(ctx context.Context, binding uint64) error {
	return s.fetch(ctx, binding, true)
}

func (s *Synchronizer) fetch(ctx context.Context, binding uint64, pinned bool) error {
	s.mu.Lock()
	conversationID := s.conversationID
	if conversationID == "" || (pinned && s.binding != binding) {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	generation := s.generation
	s.loading = true
	snap := s.changedLocked()
	s.mu.Unlock()
	s.publish(snap)

	messages, err := s.remote.ListMessages(ctx, conversationID)

	userID := s.userID()

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		staleResponses.Inc()
		logger.Log.Debug("stale_fetch_discarded", zap.String("conversation", conversationID))
		return nil
	}
	s.loading = false

	if err != nil {
		s.base = nil
		s.err = err
		snap = s.changedLocked()
		s.mu.Unlock()

		observe("fetch", err)
		logger.Log.Warn("fetch_failed", zap.String("conversation", conversationID), zap.Error(err))
		s.publish(snap)
		return err
	}

	for i := range messages {
		messages[i].IsOwn = userID != "" && messages[i].Sender.String() == userID
	}
	s.base = messages
	s.err = nil
	dropped := s.reconcileShadowsLocked()
	snap = s.changedLocked()
	s.mu.Unlock()

	observe("fetch", nil)
	if dropped > 0 {
		s.persist()
	}
	s.publish(snap)
	return nil
}

// Send shows text as a provisional own message at once, then creates it
// remotely. A failed create removes the provisional entry; a successful one
// is followed by a Fetch, after which the provisional entry is dropped.
func (s *Synchronizer) Send(ctx context.Context, text, recipient string) error {
	text = strings.TrimSpace(text)
	recipient = strings.TrimSpace(recipient)

	userID := s.userID()

	s.mu.Lock()
	conversationID := s.conversationID
	switch {
	case conversationID == "":
		s.mu.Unlock()
		return ErrNoConversation
	case text == "":
		s.mu.Unlock()
		return ErrEmptyText
	case recipient == "":
		s.mu.Unlock()
		return ErrNoRecipient
	}

	now := s.now()
	provisional := chat.Message{
		ID:             s.tempIDLocked(now),
		ConversationID: conversationID,
		Sender:         chat.ID(userID),
		Receiver:       chat.ID(recipient),
		Text:           text,
		CreatedAt:      now,
		IsOwn:          true,
	}
	binding := s.binding
	s.pending = append(s.pending, provisional)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.publish(snap)

	err := s.remote.SendMessage(ctx, chat.SendRequest{
		ConversationID: conversationID,
		Receiver:       recipient,
		Text:           text,
	})
	observe("send", err)
	if err != nil {
		logger.Log.Warn("send_failed", zap.String("conversation", conversationID), zap.Error(err))
		s.mu.Lock()
		if s.binding == binding {
			s.removePendingLocked(provisional.ID)
			s.err = err
			snap = s.changedLocked()
			s.mu.Unlock()
			s.publish(snap)
		} else {
			s.mu.Unlock()
		}
		return err
	}

	fetchErr := s.refetch(ctx, binding)

	s.mu.Lock()
	if s.binding == binding && s.removePendingLocked(provisional.ID) {
		snap = s.changedLocked()
		s.mu.Unlock()
		s.publish(snap)
	} else {
		s.mu.Unlock()
	}

	if fetchErr != nil {
		return fmt.Errorf("refresh after send: %w", fetchErr)
	}
	return nil
}

// Edit shows newText on messageID at once through a persisted edit shadow,
// then updates the message remotely. A failed update restores the previous
// shadow; a successful one is followed by a Fetch.
func (s *Synchronizer) Edit(ctx context.Context, messageID, newText string) error {
	messageID = strings.TrimSpace(messageID)
	newText = strings.TrimSpace(newText)

	userID := s.userID()
	if userID == "" {
		return ErrNoUser
	}
	if messageID == "" {
		return ErrNoMessageID
	}
	if newText == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	conversationID := s.conversationID
	if conversationID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	binding := s.binding
	previous, hadPrevious := s.shadowSet[messageID]
	shadow := chat.EditShadow{Text: newText, EditedAt: s.now()}
	s.shadowSet[messageID] = shadow

	// undo puts previous back while the entry is still the one written here.
	undo := func(set chat.ShadowSet) bool {
		current, ok := set[messageID]
		if !ok || !sameShadow(current, shadow) {
			return false
		}
		if hadPrevious {
			set[messageID] = previous
		} else {
			delete(set, messageID)
		}
		return true
	}
	snap := s.changedLocked()
	s.mu.Unlock()

	s.persist()
	s.publish(snap)

	err := s.remote.EditMessage(ctx, messageID, chat.EditRequest{UserID: userID, Text: newText})
	observe("edit", err)
	if err != nil {
		logger.Log.Warn("edit_failed",
			zap.String("conversation", conversationID),
			zap.String("message", messageID),
			zap.Error(err),
		)
		s.mu.Lock()
		if s.binding != binding {
			// the conversation was switched away (and maybe back): roll back
			// the persisted record and, when rebound, the reloaded set too.
			var snap pendingNotice
			if s.conversationID == conversationID && undo(s.shadowSet) {
				snap = s.changedLocked()
			}
			s.mu.Unlock()
			s.updateStored(conversationID, undo)
			s.publish(snap)
			return err
		}
		undo(s.shadowSet)
		s.err = err
		snap = s.changedLocked()
		s.mu.Unlock()

		s.persist()
		s.publish(snap)
		return err
	}

	return s.refetch(ctx, binding)
}

// Delete hides messageID at once, then deletes it remotely. A failed delete
// shows the message again; a successful one is followed by a Fetch.
func (s *Synchronizer) Delete(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)

	userID := s.userID()
	if userID == "" {
		return ErrNoUser
	}
	if messageID == "" {
		return ErrNoMessageID
	}

	s.mu.Lock()
	conversationID := s.conversationID
	if conversationID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	binding := s.binding
	s.hidden[messageID]++
	snap := s.changedLocked()
	s.mu.Unlock()
	s.publish(snap)

	err := s.remote.DeleteMessage(ctx, messageID, chat.DeleteRequest{UserID: userID})
	observe("delete", err)
	if err != nil {
		logger.Log.Warn("delete_failed",
			zap.String("conversation", conversationID),
			zap.String("message", messageID),
			zap.Error(err),
		)
		s.mu.Lock()
		if s.binding != binding {
			s.mu.Unlock()
			return err
		}
		s.unhideLocked(messageID)
		s.err = err
		snap = s.changedLocked()
		s.mu.Unlock()
		s.publish(snap)
		return err
	}

	s.mu.Lock()
	if s.binding != binding {
		s.mu.Unlock()
		s.updateStored(conversationID, func(set chat.ShadowSet) bool {
			if _, ok := set[messageID]; !ok {
				return false
			}
			delete(set, messageID)
			return true
		})
		return nil
	}
	_, shadowed := s.shadowSet[messageID]
	delete(s.shadowSet, messageID)
	s.mu.Unlock()
	if shadowed {
		s.persist()
	}

	fetchErr := s.refetch(ctx, binding)

	s.mu.Lock()
	if s.binding == binding {
		s.unhideLocked(messageID)
		snap = s.changedLocked()
		s.mu.Unlock()
		s.publish(snap)
	} else {
		s.mu.Unlock()
	}
	return fetchErr
}

// reconcileShadowsLocked drops shadows the fetched list has caught up with:
// the message is gone, the server reports the same text as edited, or the
// server's own edit is newer than the shadow.
func (s *Synchronizer) reconcileShadowsLocked() int {
	if len(s.shadowSet) == 0 {
		return 0
	}
	byID := make(map[string]chat.Message, len(s.base))
	for _, m := range s.base {
		byID[m.ID] = m
	}

	dropped := 0
	for id, shadow := range s.shadowSet {
		server, ok := byID[id]
		switch {
		case !ok:
		case server.Edited() && server.Text == shadow.Text:
		case server.Edited() && server.EditedAt.After(shadow.EditedAt):
		default:
			continue
		}
		delete(s.shadowSet, id)
		dropped++
	}
	return dropped
}

func (s *Synchronizer) displayedLocked() []chat.Message {
	out := make([]chat.Message, 0, len(s.base)+len(s.pending))
	seen := make(map[string]struct{}, cap(out))
	for _, m := range s.base {
		if s.hidden[m.ID] > 0 {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.EditedAt != nil {
			at := *m.EditedAt
			m.EditedAt = &at
		}
		s.shadowSet.Apply(&m)
		out = append(out, m)
	}
	for _, m := range s.pending {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// tempIDLocked returns the current time in milliseconds as a decimal string,
// bumped until it differs from every displayed identifier.
func (s *Synchronizer) tempIDLocked(now time.Time) string {
	taken := make(map[string]struct{}, len(s.base)+len(s.pending))
	for _, m := range s.base {
		taken[m.ID] = struct{}{}
	}
	for _, m := range s.pending {
		taken[m.ID] = struct{}{}
	}

	ms := now.UnixMilli()
	for {
		id := strconv.FormatInt(ms, 10)
		if _, ok := taken[id]; !ok {
			return id
		}
		ms++
	}
}

func (s *Synchronizer) removePendingLocked(id string) bool {
	for i, m := range s.pending {
		if m.ID == id {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Synchronizer) unhideLocked(id string) {
	if s.hidden[id] <= 1 {
		delete(s.hidden, id)
		return
	}
	s.hidden[id]--
}

func (s *Synchronizer) userID() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Version:        s.version,
		ConversationID: s.conversationID,
		Messages:       s.displayedLocked(),
		Err:            s.err,
		Loading:        s.loading,
	}
}

// changedLocked bumps the version and returns the snapshot with the
// observers to notify.
func (s *Synchronizer) changedLocked() pendingNotice {
	s.version++
	if len(s.observers) == 0 {
		return pendingNotice{}
	}
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	return pendingNotice{snap: s.snapshotLocked(), observers: fns}
}

type pendingNotice struct {
	snap      Snapshot
	observers []func(Snapshot)
}

func (s *Synchronizer) publish(n pendingNotice) {
	for _, fn := range n.observers {
		fn(n.snap)
	}
}

// persist writes the current shadow set of the bound conversation. Writes are
// serialised and always read the latest set, so the last write wins with the
// newest state.
func (s *Synchronizer) persist() {
	if s.shadows == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	conversationID := s.conversationID
	set := s.shadowSet.Clone()
	s.mu.Unlock()

	if conversationID == "" {
		return
	}
	if err := s.shadows.Save(conversationID, set); err != nil {
		logger.Log.Warn("shadow_save_failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// updateStored applies fn to the persisted shadows of conversationID and
// saves them when fn reports a change. It serves mutations that settle after
// their conversation was unbound.
func (s *Synchronizer) updateStored(conversationID string, fn func(chat.ShadowSet) bool) {
	if s.shadows == nil || conversationID == "" {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	set, err := s.shadows.Load(conversationID)
	if err != nil {
		logger.Log.Warn("shadow_load_failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	if set == nil || !fn(set) {
		return
	}
	if err := s.shadows.Save(conversationID, set); err != nil {
		logger.Log.Warn("shadow_save_failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// sameShadow compares by instant so a record read back from storage matches
// the one written.
func sameShadow(a, b chat.EditShadow) bool {
	return a.Text == b.Text && a.EditedAt.Equal(b.EditedAt)
}
