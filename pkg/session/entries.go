package session

import (
	"encoding/json"
	"time"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

const CurrentSessionVersion = 2

const (
	EntryTypeSession             = "session"
	EntryTypeMessage             = "message"
	EntryTypeCompaction          = "compaction"
	EntryTypeBranchSummary       = "branch_summary"
	EntryTypeCustomMessage       = "custom_message"
	EntryTypeModelChange         = "model_change"
	EntryTypeThinkingLevelChange = "thinking_level_change"
	EntryTypeLabel               = "label"
	EntryTypeSessionInfo         = "session_info"
)

// Header is the first line of a persisted session.
type Header struct {
	Type          string `json:"type"`
	Version       int    `json:"version"`
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Cwd           string `json:"cwd"`
	ParentSession string `json:"parentSession,omitempty"`
}

// FileDetails records the files a summarized span touched.
type FileDetails struct {
	ReadFiles     []string `json:"readFiles"`
	ModifiedFiles []string `json:"modifiedFiles"`
}

// Entry is one node of the session tree. Entries are append-only; the only
// in-place change is tool output pruning.
type Entry struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	ParentID  *string `json:"parentId"`
	Timestamp string  `json:"timestamp"`

	// Seq is the arena position, assigned on load or append.
	Seq int `json:"-"`

	// message and custom_message
	Message *agentctx.AgentMessage `json:"message,omitempty"`

	// compaction and branch_summary
	Summary          string          `json:"summary,omitempty"`
	ShortSummary     string          `json:"shortSummary,omitempty"`
	FirstKeptEntryID string          `json:"firstKeptEntryId,omitempty"`
	TokensBefore     int             `json:"tokensBefore,omitempty"`
	FromID           string          `json:"fromId,omitempty"`
	Details          *FileDetails    `json:"details,omitempty"`
	PreserveData     json.RawMessage `json:"preserveData,omitempty"`
	FromHook         bool            `json:"fromHook,omitempty"`

	// model_change, thinking_level_change, label
	Provider      string `json:"provider,omitempty"`
	ModelID       string `json:"modelId,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
	TargetID      string `json:"targetId,omitempty"`
	Label         string `json:"label,omitempty"`

	// session_info
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`
}

// IsMetadata reports whether the entry carries no conversational content.
func (e *Entry) IsMetadata() bool {
	switch e.Type {
	case EntryTypeModelChange, EntryTypeThinkingLevelChange, EntryTypeLabel, EntryTypeSessionInfo:
		return true
	}
	return false
}

// AsMessage returns the message an entry contributes to a context view.
// Metadata entries contribute nothing.
func (e *Entry) AsMessage() (agentctx.AgentMessage, bool) {
	switch e.Type {
	case EntryTypeMessage, EntryTypeCustomMessage:
		if e.Message == nil {
			return agentctx.AgentMessage{}, false
		}
		return *e.Message, true
	case EntryTypeBranchSummary:
		return agentctx.NewBranchSummaryMessage(e.Summary, e.FromID, timestampToMillis(e.Timestamp)), true
	case EntryTypeCompaction:
		return agentctx.NewCompactionSummaryMessage(e.Summary, e.ShortSummary, e.TokensBefore, timestampToMillis(e.Timestamp)), true
	}
	return agentctx.AgentMessage{}, false
}

func newHeader(id, cwd, parentSession string) Header {
	return Header{
		Type:          EntryTypeSession,
		Version:       CurrentSessionVersion,
		ID:            id,
		Timestamp:     now(),
		Cwd:           cwd,
		ParentSession: parentSession,
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func timestampToMillis(ts string) int64 {
	if ts == "" {
		return time.Now().UnixMilli()
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return parsed.UnixMilli()
}

func decodeHeader(line []byte) (*Header, error) {
	var header Header
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, err
	}
	if header.Type != EntryTypeSession || header.ID == "" {
		return nil, nil
	}
	return &header, nil
}
