// cmd/client/main.go
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"chatview/internal/client/models"
	"chatview/internal/client/tui"
	"chatview/internal/config"

	tea "github.com/charmbracelet/bubbletea"
)

var p *tea.Program

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// the TUI owns stdout, so logs go to a file
	logFile, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal("Error opening log file: ", err)
	}
	defer logFile.Close()

	// Load already ran Validate, which rejects a bad level
	level, _ := cfg.Logging.SlogLevel()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	onError := func(err error) {
		if p != nil {
			p.Send(models.ErrorMsg{Error: err.Error()})
		}
	}

	connect, err := newConnector(cfg, logger, onError)
	if err != nil {
		log.Fatal(err)
	}

	logger.Info("starting client", "backend", cfg.Backend)
	app := tui.NewApp(connect, logger)

	p = tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		logger.Error("program exited with error", "error", err)
		fmt.Fprintln(os.Stderr, "Error running program:", err)
		os.Exit(1)
	}
}
