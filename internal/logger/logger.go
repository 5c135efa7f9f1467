package logger

import (
	"log/slog"
	"os"
)

// Init routes the default slog logger to a file so terminal output stays clean
// while the TUI owns the screen.
func Init(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	return nil
}
