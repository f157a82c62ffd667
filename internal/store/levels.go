package store

import (
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// Level identifies one tier of the context hierarchy.
type Level string

const (
	LevelGlobal  Level = "global"
	LevelProject Level = "project"
	LevelBranch  Level = "branch"
	LevelTask    Level = "task"
)

// levelOrder lists levels root-to-leaf. Resolution merges in this order.
var levelOrder = []Level{LevelGlobal, LevelProject, LevelBranch, LevelTask}

// ParseLevel validates a level string from the control API.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelGlobal, LevelProject, LevelBranch, LevelTask:
		return Level(s), nil
	}
	return "", ferrors.ValidationError("malformed level").
		WithContext("level", s).
		Build()
}

// Parent returns the level above l, or false for the global root.
func (l Level) Parent() (Level, bool) {
	for i, lv := range levelOrder {
		if lv == l && i > 0 {
			return levelOrder[i-1], true
		}
	}
	return "", false
}

// Child returns the level below l, or false for the task leaf.
func (l Level) Child() (Level, bool) {
	for i, lv := range levelOrder {
		if lv == l && i < len(levelOrder)-1 {
			return levelOrder[i+1], true
		}
	}
	return "", false
}

// Depth returns the zero-based distance from the global root.
func (l Level) Depth() int {
	for i, lv := range levelOrder {
		if lv == l {
			return i
		}
	}
	return -1
}

// Above reports whether l is an ancestor level of other.
func (l Level) Above(other Level) bool {
	return l.Depth() >= 0 && other.Depth() >= 0 && l.Depth() < other.Depth()
}

func (l Level) String() string { return string(l) }

// table returns the per-level contexts table name.
func (l Level) table() string {
	return "contexts_" + string(l)
}
