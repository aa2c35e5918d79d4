// nowplaying is a terminal UI showing the active media session, with
// playback controls on the keyboard.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/krosov/mediasessions/pkg/mediasessions"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger, err := mediasessions.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	config, err := mediasessions.NewConfig(logger)
	if err != nil {
		logger.Fatalw("Failed to create config", "error", err)
	}
	if err := config.Load(); err != nil {
		logger.Fatalw("Failed to load config", "error", err)
	}

	engine, err := mediasessions.NewWithOptions(logger, config.Engine)
	if err != nil {
		logger.Fatalw("Failed to create media sessions engine", "error", err)
	}
	defer engine.Close()

	program := tea.NewProgram(newModel(engine), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		logger.Fatalw("TUI exited with error", "error", err)
	}
}
