package session

import "fmt"

// CollectBranchEntries returns the entries that are on the path to
// oldLeafID but not on the path to targetID, ordered root to leaf, plus the
// deepest entry both paths share ("" when they share none).
func (s *Session) CollectBranchEntries(oldLeafID, targetID string) ([]Entry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[targetID]; !ok {
		return nil, "", fmt.Errorf("entry %s not found", targetID)
	}
	if oldLeafID == "" {
		return nil, "", nil
	}
	if _, ok := s.byID[oldLeafID]; !ok {
		return nil, "", fmt.Errorf("entry %s not found", oldLeafID)
	}

	onTarget := make(map[string]bool)
	for _, entry := range s.branchLocked(targetID) {
		onTarget[entry.ID] = true
	}

	oldPath := s.branchLocked(oldLeafID)
	ancestor := ""
	start := 0
	for i := len(oldPath) - 1; i >= 0; i-- {
		if onTarget[oldPath[i].ID] {
			ancestor = oldPath[i].ID
			start = i + 1
			break
		}
	}
	return oldPath[start:], ancestor, nil
}

// TreeNode is one entry with its children, for display.
type TreeNode struct {
	Entry    Entry
	Label    string
	Children []*TreeNode
}

// Tree returns the root nodes of the session tree in append order.
func (s *Session) Tree() []*TreeNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := make(map[string]string)
	for _, entry := range s.entries {
		if entry.Type == EntryTypeLabel {
			labels[entry.TargetID] = entry.Label
		}
	}

	nodes := make(map[string]*TreeNode, len(s.entries))
	roots := make([]*TreeNode, 0)
	for _, entry := range s.entries {
		node := &TreeNode{Entry: *entry, Label: labels[entry.ID]}
		nodes[entry.ID] = node
		if entry.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := nodes[*entry.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}
