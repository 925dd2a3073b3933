package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/gatekeeper/internal/config"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/ashureev/gatekeeper/internal/tui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const localUserID = "local"

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the challenge in the terminal",
	Long: `Starts a terminal chat with the gatekeeper. The completion backend is
configured the same way as for "serve"; pass --offline to play against the
built-in scripted gatekeeper without any API key.`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().Bool("offline", false, "use the built-in offline gatekeeper")
	playCmd.Flags().String("log-file", "", "write logs to this file instead of discarding them")
}

func runPlay(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := playLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		cfg.LLM.Provider = llm.ProviderOffline
	}

	rules, err := config.LoadRules(rulesPath(cmd))
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := llm.New(ctx, cfg.LLM.Generator())
	if errors.Is(err, llm.ErrMissingAPIKey) {
		return fmt.Errorf("%w (set an API key or pass --offline)", err)
	}
	if err != nil {
		return fmt.Errorf("initialize completion backend: %w", err)
	}
	if closer, ok := gen.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	turnLog := session.ObserverFunc(func(_ context.Context, rec session.TurnRecord) {
		logger.Info("Turn processed",
			"session_id", rec.SessionID,
			"outcome", rec.Outcome(),
			"depth", rec.Snapshot.ConversationDepth,
			"trust", rec.Snapshot.TrustLevel,
			"revealed", rec.Snapshot.RevealedChars,
		)
	})
	start := func() tui.Conversation {
		return session.New(localUserID, uuid.NewString(), session.Options{
			Rules:     rules,
			Generator: gen,
			Observer:  turnLog,
			Logger:    logger,
		})
	}

	return tui.Run(ctx, tui.New(start, gen.Name()))
}

// playLogger keeps log output off the terminal the UI draws on.
func playLogger(cmd *cobra.Command) (*slog.Logger, func(), error) {
	path, _ := cmd.Flags().GetString("log-file")
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = f.Close() }, nil
}
