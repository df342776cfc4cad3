package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/SeanYan604/ai-toolkit/internal/dynconfig"
)

type cli struct {
	trainingFolder string
	out            io.Writer
	logger         *slog.Logger
}

func newCLI(trainingFolder string, out io.Writer) *cli {
	return &cli{
		trainingFolder: trainingFolder,
		out:            out,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		writeUsage(os.Stdout)
		return nil
	}

	switch args[0] {
	case "list":
		if len(args) > 1 {
			c.trainingFolder = args[1]
		}
		return c.list()
	case "get":
		if len(args) != 2 {
			return errors.New("usage: aitk-dynconfig get <job>")
		}
		return c.show(args[1])
	case "set":
		if len(args) != 4 {
			return errors.New("usage: aitk-dynconfig set <job> <key> <value|none>")
		}
		return c.set(args[1], args[2], args[3])
	case "create":
		if len(args) != 2 {
			return errors.New("usage: aitk-dynconfig create <job>")
		}
		return c.create(args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *cli) list() error {
	entries, err := os.ReadDir(c.trainingFolder)
	if err != nil {
		return fmt.Errorf("read training folder: %w", err)
	}

	var found int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		found++
		configPath := filepath.Join(c.trainingFolder, entry.Name(), dynconfig.FileName)
		status := "no config"
		if _, err := os.Stat(configPath); err == nil {
			status = "has config"
		}
		fmt.Fprintf(c.out, "  %-30s %s\n", entry.Name(), status)
	}
	if found == 0 {
		fmt.Fprintln(c.out, "No training jobs found.")
	}
	return nil
}

func (c *cli) show(jobID string) error {
	configPath := filepath.Join(c.trainingFolder, jobID, dynconfig.FileName)
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("no dynamic config for job %q (expected %s)", jobID, configPath)
	}

	store, err := dynconfig.OpenPath(c.logger, jobID, configPath)
	if err != nil {
		return err
	}
	doc, err := store.Snapshot()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Dynamic configuration for job: %s\n", jobID)
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		value := doc[key]
		switch {
		case key == "last_updated":
			if secs, ok := value.(float64); ok {
				stamp := time.Unix(int64(secs), 0)
				fmt.Fprintf(c.out, "  %-15s: %s\n", key, stamp.Format("2006-01-02 15:04:05"))
				continue
			}
			fmt.Fprintf(c.out, "  %-15s: %v\n", key, value)
		case value == nil:
			fmt.Fprintf(c.out, "  %-15s: (use default)\n", key)
		default:
			fmt.Fprintf(c.out, "  %-15s: %v\n", key, value)
		}
	}
	fmt.Fprintf(c.out, "\nConfig file: %s\n", configPath)
	return nil
}

func (c *cli) set(jobID, key, rawValue string) error {
	jobDir := filepath.Join(c.trainingFolder, jobID)
	if _, err := os.Stat(jobDir); err != nil {
		return fmt.Errorf("job directory not found: %s", jobDir)
	}

	store, err := dynconfig.OpenPath(c.logger, jobID, filepath.Join(jobDir, dynconfig.FileName))
	if err != nil {
		return err
	}

	if isNullValue(rawValue) {
		if err := store.Clear(key); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s cleared for job %s (caller default applies)\n", key, jobID)
		return nil
	}

	value, err := strconv.Atoi(rawValue)
	if err != nil {
		return fmt.Errorf("%s must be a positive integer or 'none', got %q", key, rawValue)
	}
	if err := store.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s set to %d for job %s\n", key, value, jobID)
	return nil
}

func (c *cli) create(jobID string) error {
	store, err := dynconfig.Open(c.logger, jobID, c.trainingFolder)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created %s\n", store.Path())
	return nil
}

func isNullValue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "null", "":
		return true
	}
	return false
}
