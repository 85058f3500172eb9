package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <operation-id>",
	Short: "Tail an operation's human log as it is appended to",
	Long: `watch follows "<base>/<operation-id>.operation.log" with inotify
instead of poll-sleeping, printing each new line as the Store appends it —
useful for observing a live operation from a terminal separate from any
participant process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")

		name := args[0] + ".operation.log"
		if debug {
			name = args[0] + ".operation.debug.log"
		}
		path := filepath.Join(cfg.Store.BasePath, name)
		return tailFile(cmd.Context().Done(), path)
	},
}

func init() {
	watchCmd.Flags().Bool("debug", false, "tail the debug log (heartbeat traces) instead of the human log")
}

// tailFile prints path's existing content, then every line subsequently
// appended to it, until stop fires. It watches the containing directory
// rather than the file itself since the file may not exist yet when
// watch starts (the operation's first log line hasn't landed).
func tailFile(stop <-chan struct{}, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dpl watch: create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("dpl watch: watch %s: %w", dir, err)
	}

	f, offset, err := openAtEnd(path)
	if err == nil {
		defer f.Close()
	}

	printNewLines := func() {
		if f == nil {
			f, offset, err = openAtEnd(path)
			if err != nil {
				return
			}
		}
		if _, seekErr := f.Seek(offset, io.SeekStart); seekErr != nil {
			return
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
		if pos, posErr := f.Seek(0, io.SeekCurrent); posErr == nil {
			offset = pos
		}
	}
	printNewLines()

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) == filepath.Base(path) && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				printNewLines()
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "dpl watch: %v\n", watchErr)
		}
	}
}

func openAtEnd(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return f, 0, nil
}
