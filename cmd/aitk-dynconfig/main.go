package main

import (
	"context"
	"fmt"
	"os"

	"github.com/SeanYan604/ai-toolkit/internal/config"
)

const version = "0.2.0"

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "--help" || args[0] == "-h" || args[0] == "help") {
		writeUsage(os.Stdout)
		return
	}
	if len(args) > 0 && args[0] == "--version" {
		fmt.Printf("aitk-dynconfig %s\n", version)
		return
	}

	cfg, err := config.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cli := newCLI(cfg.OutputDir, os.Stdout)
	if err := cli.run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func writeUsage(w *os.File) {
	fmt.Fprintf(w, "aitk-dynconfig %s — manage the live cadence config of running training jobs\n\n", version)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  aitk-dynconfig list [training_folder]")
	fmt.Fprintln(w, "  aitk-dynconfig get <job>")
	fmt.Fprintln(w, "  aitk-dynconfig set <job> <key> <value|none>")
	fmt.Fprintln(w, "  aitk-dynconfig create <job>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Keys: sample_every, save_every, log_every (positive integer, or 'none')")
	fmt.Fprintln(w)
	config.WriteHelp(w, version)
}
