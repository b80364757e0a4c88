package persistence

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// TraceNode is a task record with its children.
type TraceNode struct {
	Task     *TaskRecord
	Children []*TraceNode
}

// BuildTree arranges records into trees. Records whose parent is not in the
// trace become roots. Order among siblings follows the input.
func BuildTree(records []*TaskRecord) []*TraceNode {
	nodes := make(map[string]*TraceNode, len(records))
	for _, rec := range records {
		nodes[rec.ID] = &TraceNode{Task: rec}
	}

	var roots []*TraceNode
	for _, rec := range records {
		n := nodes[rec.ID]
		if parent, ok := nodes[rec.ParentID]; ok && rec.ParentID != "" {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

// WriteTree prints trees as an indented outline.
func WriteTree(w io.Writer, roots []*TraceNode) error {
	for _, n := range roots {
		if err := writeNode(w, n, 0); err != nil {
			return err
		}
	}
	return nil
}

func writeNode(w io.Writer, n *TraceNode, depth int) error {
	rec := n.Task
	line := fmt.Sprintf("%s%s [%s] on %s", strings.Repeat("  ", depth), rec.Name, rec.State, rec.Executor)
	if d := rec.Duration(); d > 0 {
		line += fmt.Sprintf(" %s", d.Round(time.Microsecond))
	}
	if rec.Error != "" {
		line += ": " + firstLine(rec.Error)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := writeNode(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
