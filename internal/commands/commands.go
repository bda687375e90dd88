// Package commands provides slash command handling for the inspector session.
package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Handler is a function that handles a slash command.
// It receives the arguments after the command name and returns output text.
type Handler func(args string) string

// Registry holds all registered slash commands.
type Registry struct {
	commands map[string]entry
	writer   io.Writer
}

type entry struct {
	handler     Handler
	description string
}

// NewRegistry creates a Registry writing output to w. If w is nil, os.Stdout is used.
func NewRegistry(w io.Writer) *Registry {
	if w == nil {
		w = os.Stdout
	}
	return &Registry{
		commands: make(map[string]entry),
		writer:   w,
	}
}

// Register adds a command to the registry.
func (r *Registry) Register(name, description string, handler Handler) {
	r.commands[name] = entry{handler: handler, description: description}
}

// Execute runs a slash command. Returns the command output and whether it was found.
func (r *Registry) Execute(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", false
	}

	parts := strings.SplitN(input[1:], " ", 2)
	name := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	e, ok := r.commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name), true
	}

	return e.handler(args), true
}

// IsCommand reports whether the input starts with a slash command prefix.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Quit is returned by the quit and exit commands.
const Quit = "__QUIT__"

// RegisterDefaults registers the standard set of slash commands.
func RegisterDefaults(r *Registry, callbacks Callbacks) {
	r.Register("help", "Show available commands", func(_ string) string {
		return r.helpText()
	})
	r.Register("quit", "Exit the application", func(_ string) string {
		return Quit
	})
	r.Register("exit", "Exit the application", func(_ string) string {
		return Quit
	})
	r.Register("reset", "Drop the merged state and decoders", func(_ string) string {
		if callbacks.OnReset != nil {
			callbacks.OnReset()
		}
		return "State reset."
	})
	r.Register("state", "Show the merged state", func(args string) string {
		if callbacks.OnState != nil {
			return callbacks.OnState(args)
		}
		return "State display not configured."
	})
	r.Register("reasoning", "Show decoded side-channel records, or one tool response by id", func(args string) string {
		if callbacks.OnReasoning != nil {
			return callbacks.OnReasoning(args)
		}
		return "Side-channel decoding not configured."
	})
	r.Register("rank", "Rank judgment records seen in tool responses", func(_ string) string {
		if callbacks.OnRank != nil {
			return callbacks.OnRank()
		}
		return "Ranking not configured."
	})
	r.Register("load", "Push every chunk of a recorded stream file", func(args string) string {
		if callbacks.OnLoad != nil {
			return callbacks.OnLoad(args)
		}
		return "Loading not configured."
	})
	r.Register("config", "Show current configuration", func(_ string) string {
		if callbacks.OnConfig != nil {
			return callbacks.OnConfig()
		}
		return "Configuration display not configured."
	})
}

// Callbacks holds optional callbacks for default commands that need session state.
type Callbacks struct {
	OnReset     func()
	OnState     func(args string) string
	OnReasoning func(args string) string
	OnRank      func() string
	OnLoad      func(args string) string
	OnConfig    func() string
}

func (r *Registry) helpText() string {
	var names []string
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("  /%s - %s\n", name, r.commands[name].description))
	}
	return sb.String()
}
