// deltamerge merges OpenAI-compatible chat completion streams, decodes their
// side-channel and ranks judgment records.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/config"
	"github.com/tnglemongrass/deltamerge/internal/inspect"
)

const usage = `Usage: deltamerge <command> [flags] [args]

Commands:
  merge [file]       merge a recorded stream (stdin when no file is given)
  stream <prompt>    send a prompt and merge the live response
  reasoning [file]   decode the side-channel of a recorded stream
  rank [file]        rank newline-delimited judgment records
  repl               interactive inspector
  serve              HTTP API
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "repl" {
		err = runREPL(cfg)
	} else {
		a := &app{cfg: cfg, stdin: os.Stdin, stdout: os.Stdout}
		err = a.run(ctx, command)
	}
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runREPL(cfg *config.Config) error {
	session, err := inspect.NewSession(cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          inspect.Prompt,
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("deltamerge - stream inspector")
	fmt.Println("Paste chunk lines (SSE or NDJSON), /load <file>, /help for commands, /quit to exit.")

	readInput := func(_ string) (string, error) {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return line, err
	}
	return session.Run(readInput)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".deltamerge")
	_ = os.MkdirAll(dir, 0755)
	return filepath.Join(dir, "history")
}
