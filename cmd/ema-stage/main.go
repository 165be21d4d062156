// Command ema-stage is a terminal client for the conversational engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-stage/core/transport"
	"github.com/koscakluka/ema-stage/internal/config"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ema-stage: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "chat":
		return runChat(args)
	case "schema":
		return runSchema(os.Stdout)
	case "engines":
		return runEngines(args, os.Stdout)
	default:
		return fmt.Errorf("unknown command %q (want chat, schema or engines)", command)
	}
}

func loadConfig(envFile string) (config.Config, error) {
	if envFile == "" {
		return config.Load()
	}
	return config.Load(envFile)
}

func runChat(args []string) error {
	flags := flag.NewFlagSet("chat", flag.ContinueOnError)
	withVoice := flags.Bool("voice", false, "capture the microphone and send transcripts")
	envFile := flags.String("env", "", "path to an env file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*envFile)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	bridge := newEventBridge(eventBufferSize)
	a, err := newApp(cfg, *withVoice, bridge.handle)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "ema-stage: shutdown: %v\n", err)
		}
	}()
	// Registered after Close so it runs first: nothing reads events once
	// the program is gone.
	defer bridge.close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	program := tea.NewProgram(newModel(ctx, a, bridge), tea.WithAltScreen(), tea.WithMouseCellMotion())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		defer bridge.close()
		_, err := program.Run()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		program.Quit()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func runSchema(out io.Writer) error {
	data, err := transport.SchemaJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
