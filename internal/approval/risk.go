// internal/approval/risk.go

// Package approval implements risk classification, approval-pattern learning,
// and pending-request bookkeeping for tool calls.
package approval

import (
	"strings"

	"github.com/user/termloom/internal/types"
)

// riskTable maps known tool names to their declared risk.
var riskTable = map[string]types.RiskLevel{
	// Read-only operations
	"read_file":       types.RiskLow,
	"grep_file":       types.RiskLow,
	"list_files":      types.RiskLow,
	"search_code":     types.RiskLow,
	"search_files":    types.RiskLow,
	"analyze_file":    types.RiskLow,
	"extract_symbols": types.RiskLow,
	"detect_language": types.RiskLow,
	"get_errors":      types.RiskLow,
	"update_plan":     types.RiskLow,
	"web_fetch":       types.RiskLow,

	// Write operations (recoverable)
	"write_file":  types.RiskMedium,
	"create_file": types.RiskMedium,
	"edit_file":   types.RiskMedium,
	"apply_patch": types.RiskMedium,

	// Shell execution
	"run_pty_cmd":        types.RiskHigh,
	"create_pty_session": types.RiskHigh,
	"send_pty_input":     types.RiskHigh,
	"bash":               types.RiskHigh,
	"run_shell_cmd":      types.RiskHigh,

	// Destructive operations
	"delete_file":  types.RiskCritical,
	"execute_code": types.RiskCritical,
}

// dangerousNames is the fixed set of file/process-mutating operations that
// are flagged dangerous regardless of declared risk.
var dangerousNames = map[string]bool{
	"write_file":    true,
	"create_file":   true,
	"edit_file":     true,
	"apply_patch":   true,
	"delete_file":   true,
	"run_pty_cmd":   true,
	"bash":          true,
	"run_shell_cmd": true,
	"execute_code":  true,
}

// RiskForTool classifies a tool name. Unknown tools default to high risk;
// sub-agent tools are medium.
func RiskForTool(name string) types.RiskLevel {
	if risk, ok := riskTable[name]; ok {
		return risk
	}
	if strings.HasPrefix(name, "sub_agent_") {
		return types.RiskMedium
	}
	return types.RiskHigh
}

// IsDangerous reports whether a tool is flagged dangerous: either its name
// belongs to the mutating-operation set, or its risk is high or critical.
func IsDangerous(name string, risk types.RiskLevel) bool {
	if dangerousNames[name] {
		return true
	}
	return risk == types.RiskHigh || risk == types.RiskCritical
}
