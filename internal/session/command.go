// internal/session/command.go
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/termloom/internal/types"
)

// commandAssembler accumulates one in-flight shell invocation from PTY
// markers and output deltas. It lives in the session's live overlay until a
// command_end marker supplies the exit code.
type commandAssembler struct {
	id        string
	command   string
	output    strings.Builder
	startedAt time.Time
	open      bool
}

func newCommandAssembler() *commandAssembler {
	return &commandAssembler{}
}

// begin opens a new command region. The command text is the last submitted
// terminal input; the PTY markers only delimit output.
func (c *commandAssembler) begin(command string, now time.Time) {
	c.id = uuid.New().String()
	c.command = command
	c.output.Reset()
	c.startedAt = now
	c.open = true
}

// appendOutput adds terminal output to the open command. Output arriving with
// no open command (prompt echo, banner text) is deliberately dropped from
// block assembly; the raw PTY stream is rendered elsewhere.
func (c *commandAssembler) appendOutput(data string) {
	if !c.open {
		return
	}
	c.output.WriteString(data)
}

// finish seals the command into an immutable block. durationMS of zero falls
// back to the wall clock measured since begin.
func (c *commandAssembler) finish(exitCode int, durationMS int64, now time.Time) *types.CommandBlock {
	if !c.open {
		return nil
	}
	if durationMS == 0 && !c.startedAt.IsZero() {
		durationMS = now.Sub(c.startedAt).Milliseconds()
	}
	code := exitCode
	cb := &types.CommandBlock{
		ID:         c.id,
		Command:    c.command,
		Output:     c.output.String(),
		ExitCode:   &code,
		DurationMS: durationMS,
	}
	c.open = false
	c.output.Reset()
	return cb
}

// live returns a copy of the in-flight command for the overlay, or nil.
func (c *commandAssembler) live() *types.CommandBlock {
	if !c.open {
		return nil
	}
	return &types.CommandBlock{
		ID:      c.id,
		Command: c.command,
		Output:  c.output.String(),
	}
}
