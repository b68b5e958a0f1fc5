package compact

import (
	"sort"
	"strings"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// FileOperations accumulates the files touched by tool calls.
type FileOperations struct {
	Read    map[string]struct{}
	Written map[string]struct{}
	Edited  map[string]struct{}
}

func NewFileOperations() *FileOperations {
	return &FileOperations{
		Read:    make(map[string]struct{}),
		Written: make(map[string]struct{}),
		Edited:  make(map[string]struct{}),
	}
}

// AddMessages records file operations from assistant tool calls.
func (f *FileOperations) AddMessages(messages []agentctx.AgentMessage) {
	for i := range messages {
		f.AddMessage(&messages[i])
	}
}

// AddMessage records file operations from one message's tool calls.
func (f *FileOperations) AddMessage(msg *agentctx.AgentMessage) {
	if msg.Role != agentctx.RoleAssistant {
		return
	}
	for _, call := range msg.ExtractToolCalls() {
		path := toolCallPath(call.Arguments)
		if path == "" {
			continue
		}
		switch call.Name {
		case "read":
			f.Read[path] = struct{}{}
		case "write":
			f.Written[path] = struct{}{}
		case "edit", "multiedit", "apply_patch":
			f.Edited[path] = struct{}{}
		}
	}
}

// AddDetails absorbs file lists recorded on an earlier summary entry.
func (f *FileOperations) AddDetails(details *session.FileDetails) {
	if details == nil {
		return
	}
	for _, path := range details.ReadFiles {
		f.Read[path] = struct{}{}
	}
	for _, path := range details.ModifiedFiles {
		f.Edited[path] = struct{}{}
	}
}

// Merge adds other's operations into f.
func (f *FileOperations) Merge(other *FileOperations) {
	if other == nil {
		return
	}
	for path := range other.Read {
		f.Read[path] = struct{}{}
	}
	for path := range other.Written {
		f.Written[path] = struct{}{}
	}
	for path := range other.Edited {
		f.Edited[path] = struct{}{}
	}
}

// ComputeFileLists returns sorted read-only and modified paths. A path that
// was both read and modified is only reported as modified.
func (f *FileOperations) ComputeFileLists() (readFiles, modifiedFiles []string) {
	modified := make(map[string]struct{}, len(f.Written)+len(f.Edited))
	for path := range f.Written {
		modified[path] = struct{}{}
	}
	for path := range f.Edited {
		modified[path] = struct{}{}
	}

	readFiles = make([]string, 0, len(f.Read))
	for path := range f.Read {
		if _, ok := modified[path]; !ok {
			readFiles = append(readFiles, path)
		}
	}
	modifiedFiles = make([]string, 0, len(modified))
	for path := range modified {
		modifiedFiles = append(modifiedFiles, path)
	}
	sort.Strings(readFiles)
	sort.Strings(modifiedFiles)
	return readFiles, modifiedFiles
}

// Details returns the lists in their persisted form.
func (f *FileOperations) Details() *session.FileDetails {
	readFiles, modifiedFiles := f.ComputeFileLists()
	return &session.FileDetails{ReadFiles: readFiles, ModifiedFiles: modifiedFiles}
}

// FormatFileOperations renders the tag blocks appended to a summary.
func FormatFileOperations(readFiles, modifiedFiles []string) string {
	var b strings.Builder
	if len(readFiles) > 0 {
		b.WriteString("\n\n<read-files>\n")
		b.WriteString(strings.Join(readFiles, "\n"))
		b.WriteString("\n</read-files>")
	}
	if len(modifiedFiles) > 0 {
		b.WriteString("\n\n<modified-files>\n")
		b.WriteString(strings.Join(modifiedFiles, "\n"))
		b.WriteString("\n</modified-files>")
	}
	return b.String()
}

func toolCallPath(args map[string]any) string {
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
