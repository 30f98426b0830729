package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/internal/supervisor"
)

var tailFollow bool

var tailCmd = &cobra.Command{
	Use:   "tail <job>",
	Short: "Print a job's engine output",
	Long: `Print the engine output recorded in a job's progress.log.

With --follow, keep printing new output until the job ends or Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Follow output while the job runs")
}

func runTail(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	j, err := db.GetJob(args[0])
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job %s not found", args[0])
	}
	if j.ResultDir == "" {
		return fmt.Errorf("job %s has not started", j.ID)
	}
	path := filepath.Join(j.ResultDir, supervisor.ProgressLogName)

	if !tailFollow {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open progress log: %w", err)
		}
		defer f.Close()
		_, err = io.Copy(os.Stdout, f)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return followLog(ctx, db, j.ID, path, os.Stdout)
}

// followLog copies path to w as it grows until the job is terminal.
func followLog(ctx context.Context, db *state.DB, jobID, path string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// The log may not exist until the job is prepared; watch its directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var offset int64
	copyNew := func() error {
		n, err := copyFrom(path, offset, w)
		offset += n
		return err
	}
	if err := copyNew(); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := copyNew(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch progress log: %w", err)
		case <-ticker.C:
			j, err := db.GetJob(jobID)
			if err != nil {
				return err
			}
			if j == nil || j.Status.Terminal() {
				return copyNew()
			}
		}
	}
}

// copyFrom copies path from offset to w. A missing file copies nothing.
func copyFrom(path string, offset int64, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek progress log: %w", err)
	}
	return io.Copy(w, f)
}
