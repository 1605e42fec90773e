// Package schema describes the command tree for agents that drive the CLI.
package schema

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/v3swap/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// AnnotationTransacts marks commands that submit transactions.
const AnnotationTransacts = "v3swap/transacts"

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Transacts   bool            `json:"transacts"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
	// Env is the variable that sets the flag's value when the flag is a setting.
	Env string `json:"env,omitempty"`
}

// Transacts reports whether cmd is annotated as submitting transactions.
func Transacts(cmd *cobra.Command) bool {
	return cmd.Annotations[AnnotationTransacts] == "true"
}

// Build describes the command at commandPath below root, or root itself when empty.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		next := findChild(cmd, part)
		if next == nil {
			return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}
	return serialize(cmd), nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return c
			}
		}
	}
	return nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:      strings.TrimSpace(cmd.CommandPath()),
		Use:       cmd.Use,
		Short:     cmd.Short,
		Transacts: Transacts(cmd),
		Flags:     collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
			Env:       config.EnvVar(f.Name),
		})
	})
	return items
}
