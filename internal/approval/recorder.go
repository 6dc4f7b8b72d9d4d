// internal/approval/recorder.go
package approval

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Auto-approve defaults: minimum approvals before auto-approve is considered,
// and the approval-rate threshold.
const (
	DefaultMinApprovals = 3
	DefaultThreshold    = 0.8
)

// Config controls approval behavior.
type Config struct {
	// Tools always allowed without approval.
	AlwaysAllow []string `json:"always_allow"`
	// Tools that always require approval and can never be auto-approved.
	AlwaysRequireApproval []string `json:"always_require_approval"`
	// Whether pattern learning is enabled.
	PatternLearning bool    `json:"pattern_learning_enabled"`
	MinApprovals    int     `json:"min_approvals"`
	Threshold       float64 `json:"approval_threshold"`
}

// DefaultConfig mirrors the shipped defaults: read-only tools pre-allowed,
// destructive tools pinned to manual approval.
func DefaultConfig() Config {
	return Config{
		AlwaysAllow: []string{
			"read_file", "grep_file", "list_files",
			"search_code", "search_files", "analyze_file",
			"get_errors", "web_fetch",
		},
		AlwaysRequireApproval: []string{
			"delete_file", "run_pty_cmd", "execute_code",
		},
		PatternLearning: true,
		MinApprovals:    DefaultMinApprovals,
		Threshold:       DefaultThreshold,
	}
}

// recorderData is the on-disk format, versioned for future migrations.
type recorderData struct {
	Version  int                 `json:"version"`
	Patterns map[string]*Pattern `json:"patterns"`
	Config   Config              `json:"config"`
}

// Recorder tracks approval decisions per tool and persists them as a JSON
// file with atomic writes. A corrupt or missing file degrades to defaults.
type Recorder struct {
	mu   sync.RWMutex
	data recorderData
	path string
}

// NewRecorder loads (or initializes) the pattern store at
// <dir>/approval_patterns.json.
func NewRecorder(dir string) *Recorder {
	r := &Recorder{
		path: filepath.Join(dir, "approval_patterns.json"),
		data: recorderData{
			Version:  1,
			Patterns: make(map[string]*Pattern),
			Config:   DefaultConfig(),
		},
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read approval patterns failed, using defaults", "error", err)
		}
		return r
	}
	var loaded recorderData
	if err := json.Unmarshal(raw, &loaded); err != nil {
		slog.Warn("parse approval patterns failed, using defaults", "error", err)
		return r
	}
	if loaded.Patterns == nil {
		loaded.Patterns = make(map[string]*Pattern)
	}
	r.data = loaded
	return r
}

// Config returns the current approval configuration.
func (r *Recorder) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Config
}

// SetConfig replaces the configuration and persists.
func (r *Recorder) SetConfig(cfg Config) error {
	r.mu.Lock()
	r.data.Config = cfg
	r.mu.Unlock()
	return r.save()
}

// ShouldAutoApprove reports whether the tool may run without asking:
// always-allow listed, or learned via a qualifying pattern.
func (r *Recorder) ShouldAutoApprove(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if contains(r.data.Config.AlwaysAllow, toolName) {
		return true
	}
	if contains(r.data.Config.AlwaysRequireApproval, toolName) {
		return false
	}
	if !r.data.Config.PatternLearning {
		return false
	}
	pattern, ok := r.data.Patterns[toolName]
	if !ok {
		return false
	}
	if pattern.AlwaysAllow {
		return true
	}
	return pattern.Qualifies(r.data.Config.MinApprovals, r.data.Config.Threshold)
}

// CanLearn reports whether "always allow" is offerable for this tool.
func (r *Recorder) CanLearn(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !contains(r.data.Config.AlwaysRequireApproval, toolName)
}

// RecordDecision counts an approve/deny for the tool and persists. When
// alwaysAllow is set on an approval, the pattern is pinned to auto-approve.
func (r *Recorder) RecordDecision(toolName string, approved, alwaysAllow bool) error {
	r.mu.Lock()
	pattern, ok := r.data.Patterns[toolName]
	if !ok {
		pattern = NewPattern(toolName)
		r.data.Patterns[toolName] = pattern
	}
	pattern.Record(approved)
	if alwaysAllow && approved {
		pattern.AlwaysAllow = true
	}
	r.mu.Unlock()
	return r.save()
}

// Pattern returns a copy of the recorded pattern for a tool, or nil.
func (r *Recorder) Pattern(toolName string) *Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Patterns[toolName].clone()
}

// Patterns returns copies of all recorded patterns.
func (r *Recorder) Patterns() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pattern, 0, len(r.data.Patterns))
	for _, p := range r.data.Patterns {
		out = append(out, p.clone())
	}
	return out
}

// Suggestion returns a hint when a tool is close to the auto-approve
// threshold, or empty when there is nothing useful to say.
func (r *Recorder) Suggestion(toolName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.data.Config.PatternLearning {
		return ""
	}
	pattern, ok := r.data.Patterns[toolName]
	if !ok {
		return ""
	}
	min := r.data.Config.MinApprovals
	threshold := r.data.Config.Threshold
	if pattern.Qualifies(min, threshold) {
		return ""
	}

	rate := pattern.Rate()
	if pattern.Approvals < 2 || rate < 0.6 {
		return ""
	}
	if needed := min - pattern.Approvals; needed > 0 {
		return fmt.Sprintf("You've approved %q %d times (%.0f%% approval rate). %d more approval(s) needed for auto-approve.",
			toolName, pattern.Approvals, rate*100, needed)
	}
	return fmt.Sprintf("Tool %q has %d approvals but only %.0f%% approval rate. Need %.0f%% for auto-approve.",
		toolName, pattern.Approvals, rate*100, threshold*100)
}

// save writes the pattern store to disk using atomic write (temp file + rename).
func (r *Recorder) save() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.data, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal approval patterns: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create approval dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp approval patterns: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp approval patterns: %w", err)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
