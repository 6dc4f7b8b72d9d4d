// internal/stream/group.go
package stream

import (
	"github.com/user/termloom/internal/types"
)

// GroupedKind discriminates the GroupedBlock union.
type GroupedKind string

const (
	GroupedText  GroupedKind = "text"
	GroupedTool  GroupedKind = "tool"
	GroupedGroup GroupedKind = "tool_group"
)

// GroupedBlock is one display unit after grouping: a text segment, a lone
// tool call, or a run of consecutive same-named tool calls.
type GroupedBlock struct {
	Kind     GroupedKind
	Content  string
	Tool     *types.ToolCall
	ToolName string
	Calls    []*types.ToolCall
}

// GroupConsecutiveTools collapses consecutive tool blocks sharing a tool name
// into tool_group entries. Text blocks pass through unchanged and terminate
// any open run. A run of length 1 stays a plain tool entry. Input order is
// preserved exactly, and the function is safe to re-run on any prefix of a
// block list: identical input always yields identical grouping.
func GroupConsecutiveTools(blocks []types.Block) []GroupedBlock {
	var out []GroupedBlock
	var run []*types.ToolCall
	var runName string

	flush := func() {
		switch len(run) {
		case 0:
		case 1:
			out = append(out, GroupedBlock{Kind: GroupedTool, Tool: run[0]})
		default:
			out = append(out, GroupedBlock{Kind: GroupedGroup, ToolName: runName, Calls: run})
		}
		run = nil
		runName = ""
	}

	for _, b := range blocks {
		switch b.Type {
		case types.BlockText:
			flush()
			out = append(out, GroupedBlock{Kind: GroupedText, Content: b.Content})
		case types.BlockTool:
			if len(run) > 0 && b.Tool.Name != runName {
				flush()
			}
			run = append(run, b.Tool)
			runName = b.Tool.Name
		}
	}
	flush()
	return out
}

// Flatten expands grouped blocks back into the original block sequence.
func Flatten(grouped []GroupedBlock) []types.Block {
	var out []types.Block
	for _, g := range grouped {
		switch g.Kind {
		case GroupedText:
			out = append(out, types.TextBlock(g.Content))
		case GroupedTool:
			out = append(out, types.ToolBlock(g.Tool))
		case GroupedGroup:
			for _, tc := range g.Calls {
				out = append(out, types.ToolBlock(tc))
			}
		}
	}
	return out
}
