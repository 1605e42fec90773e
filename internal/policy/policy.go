// Package policy gates which commands an invocation may run.
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/v3swap/internal/errors"
)

// ReadOnly is an allowlist entry that admits every command that submits no transaction.
const ReadOnly = "read-only"

// CheckCommandAllowed reports a CodeBlocked error unless commandPath is admitted by the
// allowlist. An entry admits the command it names and all of its subcommands.
func CheckCommandAllowed(allowlist []string, commandPath string, transacts bool) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := normalize(commandPath)
	for _, entry := range allowlist {
		allowed := normalize(entry)
		if allowed == ReadOnly && !transacts {
			return nil
		}
		if allowed == path || strings.HasPrefix(path, allowed+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command "+path+" blocked by --enable-commands policy")
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
