package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

// Session is an append-only tree of entries with a movable leaf pointer.
// All mutation goes through the session mutex and is persisted to the
// store before the call returns.
type Session struct {
	mu      sync.Mutex
	store   Store
	header  Header
	entries []*Entry
	byID    map[string]*Entry
	leafID  *string
	flushed bool
}

// New creates an empty session backed by store.
func New(store Store) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	cwd, _ := os.Getwd()
	return &Session{
		store:  store,
		header: newHeader(uuid.NewString(), cwd, ""),
		byID:   make(map[string]*Entry),
	}
}

// Open loads a session from store. An empty store yields a new session.
// The leaf is the last entry in append order.
func Open(ctx context.Context, store Store) (*Session, error) {
	sess := New(store)
	header, entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if header == nil {
		return sess, nil
	}
	sess.header = *header
	for _, entry := range entries {
		if _, dup := sess.byID[entry.ID]; dup {
			continue
		}
		sess.addEntry(entry)
	}
	sess.flushed = true
	return sess, nil
}

// OpenPath opens the store for path (see OpenStore) and loads it.
func OpenPath(ctx context.Context, path string) (*Session, error) {
	store, err := OpenStore(ctx, path)
	if err != nil {
		return nil, err
	}
	sess, err := Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return sess, nil
}

// Close releases the backing store.
func (s *Session) Close() error {
	return s.store.Close()
}

// GetID returns the session ID from the header.
func (s *Session) GetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.ID
}

// GetHeader returns a copy of the session header.
func (s *Session) GetHeader() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// GetEntries returns copies of all entries in append order.
func (s *Session) GetEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, *entry)
	}
	return entries
}

// GetEntry returns a copy of an entry by ID.
func (s *Session) GetEntry(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	copyEntry := *entry
	return &copyEntry, true
}

// GetLeafID returns the current leaf ID, or "" before any entry.
func (s *Session) GetLeafID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leafID == nil {
		return ""
	}
	return *s.leafID
}

// Branch returns entries along the path from the root to the given entry ID.
// If id is empty, it uses the current leaf.
func (s *Session) Branch(id string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branchLocked(id)
}

// SetLeaf moves the leaf pointer to an existing entry.
func (s *Session) SetLeaf(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("entry %s not found", id)
	}
	s.leafID = &entry.ID
	return nil
}

// ResetLeaf clears the leaf pointer, so the next entry starts a new root.
func (s *Session) ResetLeaf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leafID = nil
}

// BuildContext reconstructs the view for the current leaf.
func (s *Session) BuildContext() (*SessionContext, error) {
	return BuildSessionContext(s.Branch(""))
}

// GetMessages returns the current view's messages, or nil if the path is
// inconsistent.
func (s *Session) GetMessages() []agentctx.AgentMessage {
	sc, err := s.BuildContext()
	if err != nil {
		return nil
	}
	return sc.Messages
}

// AppendMessage appends a message entry under the current leaf.
func (s *Session) AppendMessage(ctx context.Context, message agentctx.AgentMessage) (string, error) {
	return s.append(ctx, &Entry{Type: EntryTypeMessage, Message: &message})
}

// AppendCustomMessage appends an extension-authored message.
func (s *Session) AppendCustomMessage(ctx context.Context, customType, text string, display bool) (string, error) {
	msg := agentctx.NewCustomMessage(customType, text, display)
	return s.append(ctx, &Entry{Type: EntryTypeCustomMessage, Message: &msg})
}

// AppendModelChange records a model switch.
func (s *Session) AppendModelChange(ctx context.Context, provider, modelID string) (string, error) {
	return s.append(ctx, &Entry{Type: EntryTypeModelChange, Provider: provider, ModelID: modelID})
}

// AppendThinkingLevelChange records a reasoning level switch.
func (s *Session) AppendThinkingLevelChange(ctx context.Context, level string) (string, error) {
	return s.append(ctx, &Entry{Type: EntryTypeThinkingLevelChange, ThinkingLevel: level})
}

// AppendLabel attaches a label to targetID. An empty label clears it.
func (s *Session) AppendLabel(ctx context.Context, targetID, label string) (string, error) {
	if _, ok := s.GetEntry(targetID); !ok {
		return "", fmt.Errorf("entry %s not found", targetID)
	}
	return s.append(ctx, &Entry{Type: EntryTypeLabel, TargetID: targetID, Label: strings.TrimSpace(label)})
}

// AppendSessionInfo appends a session info entry.
func (s *Session) AppendSessionInfo(ctx context.Context, name, title string) (string, error) {
	return s.append(ctx, &Entry{
		Type:  EntryTypeSessionInfo,
		Name:  strings.TrimSpace(name),
		Title: strings.TrimSpace(title),
	})
}

// Compaction is what a compaction run persists.
type Compaction struct {
	Summary          string
	ShortSummary     string
	FirstKeptEntryID string
	TokensBefore     int
	Details          *FileDetails
	PreserveData     json.RawMessage
	FromHook         bool
}

// AppendCompaction appends a compaction entry under the current leaf. The
// first kept entry must be on the current path and must not precede the
// boundary of an earlier compaction on that path.
func (s *Session) AppendCompaction(ctx context.Context, c Compaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.branchLocked("")
	keptIdx := -1
	for i := range path {
		if path[i].ID == c.FirstKeptEntryID {
			keptIdx = i
			break
		}
	}
	if keptIdx < 0 {
		return "", &ConsistencyError{EntryID: c.FirstKeptEntryID, Err: ErrDanglingBoundary}
	}
	prevStart, err := KeptStart(path)
	if err != nil {
		return "", err
	}
	if keptIdx < prevStart {
		return "", &ConsistencyError{EntryID: c.FirstKeptEntryID, Err: ErrBoundaryRegressed}
	}

	entry := &Entry{
		Type:             EntryTypeCompaction,
		Summary:          c.Summary,
		ShortSummary:     c.ShortSummary,
		FirstKeptEntryID: c.FirstKeptEntryID,
		TokensBefore:     c.TokensBefore,
		Details:          c.Details,
		PreserveData:     c.PreserveData,
		FromHook:         c.FromHook,
	}
	return s.appendLocked(ctx, entry, s.leafID)
}

// BranchSummary is what a branch summarization persists.
type BranchSummary struct {
	// ParentID is where the summary attaches; the leaf moves to the new entry.
	ParentID string
	FromID   string
	Summary  string
	Details  *FileDetails
	FromHook bool
}

// AppendBranchSummary attaches a branch summary entry as a child of
// b.ParentID and makes it the leaf.
func (s *Session) AppendBranchSummary(ctx context.Context, b BranchSummary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID *string
	if b.ParentID != "" {
		parent, ok := s.byID[b.ParentID]
		if !ok {
			return "", fmt.Errorf("entry %s not found", b.ParentID)
		}
		parentID = &parent.ID
	}
	entry := &Entry{
		Type:     EntryTypeBranchSummary,
		FromID:   b.FromID,
		Summary:  b.Summary,
		Details:  b.Details,
		FromHook: b.FromHook,
	}
	return s.appendLocked(ctx, entry, parentID)
}

// GetLabel returns the latest label for an entry.
func (s *Session) GetLabel(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if entry.Type == EntryTypeLabel && entry.TargetID == id {
			return entry.Label
		}
	}
	return ""
}

// GetSessionName returns the latest session name if available.
func (s *Session) GetSessionName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if entry.Type == EntryTypeSessionInfo && entry.Name != "" {
			return entry.Name
		}
	}
	return ""
}

func (s *Session) append(ctx context.Context, entry *Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, entry, s.leafID)
}

func (s *Session) appendLocked(ctx context.Context, entry *Entry, parentID *string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry.ID = generateEntryID(s.byID)
	entry.ParentID = parentID
	entry.Timestamp = now()

	if err := s.persistLocked(ctx, entry); err != nil {
		return "", fmt.Errorf("persist %s entry: %w", entry.Type, err)
	}
	s.addEntry(entry)
	return entry.ID, nil
}

func (s *Session) persistLocked(ctx context.Context, entry *Entry) error {
	if s.flushed {
		return s.store.Append(ctx, entry)
	}
	all := append(append([]*Entry(nil), s.entries...), entry)
	if err := s.store.Rewrite(ctx, s.header, all); err != nil {
		return err
	}
	s.flushed = true
	return nil
}

func (s *Session) addEntry(entry *Entry) {
	entry.Seq = len(s.entries)
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry
	s.leafID = &entry.ID
}

func (s *Session) branchLocked(id string) []Entry {
	var start *Entry
	if id != "" {
		start = s.byID[id]
	} else if s.leafID != nil {
		start = s.byID[*s.leafID]
	}

	path := make([]*Entry, 0)
	for current := start; current != nil; {
		path = append(path, current)
		if current.ParentID == nil {
			break
		}
		current = s.byID[*current.ParentID]
	}

	entries := make([]Entry, len(path))
	for i, entry := range path {
		entries[len(path)-1-i] = *entry
	}
	return entries
}

func generateEntryID(existing map[string]*Entry) string {
	for i := 0; i < 100; i++ {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, ok := existing[candidate]; !ok {
			return candidate
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
