// Package display holds the output helpers shared by linkaudit commands:
// JSON rendering, terminal detection and batch progress printing.
package display

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// OutputEnvVar selects the output format when no flag is given ("json" or "text")
const OutputEnvVar = "LINKAUDIT_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON based on its
// --json flag, then the root's persistent --json flag, then LINKAUDIT_OUTPUT.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return envWantsJSON()
	}

	// Explicit flag on the command wins either way
	if f := cmd.Flags().Lookup("json"); f != nil && f.Changed {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	if f := cmd.Root().PersistentFlags().Lookup("json"); f != nil {
		if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
			return true
		}
	}

	return envWantsJSON()
}

func envWantsJSON() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(OutputEnvVar)), "json")
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
