package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
)

type BatchEntry struct {
	URL    string `yaml:"url"`
	Target string `yaml:"target,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func readBatchFile(path string) ([]BatchEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf BatchFile
	if err := yaml.Unmarshal(b, &bf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var out []BatchEntry
	for i, e := range bf.Downloads {
		if e.URL == "" {
			printWarning(fmt.Sprintf("entry %d has no url, skipping", i))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func newBatchCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "batch FILE.yaml",
		Short: "Run every download listed in a YAML file and wait for all of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no downloads found in %s", args[0])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := downloader.NewRegistry(newTransport())
			reg.SetLogger(logger)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				failed int
			)
			for _, e := range entries {
				target := e.Target
				if target == "" {
					target = filepath.Join(cfg.DownloadDir, nameFromURL(e.URL))
				}
				wg.Add(1)
				go func(rawURL, target string) {
					defer wg.Done()
					printPending("downloading " + rawURL)
					term, err := runOne(ctx, reg, rawURL, target, cfg.Policy(), timeout, nil)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err != nil:
						failed++
						printError(rawURL + ": " + err.Error())
					case term.State != data.StateOK:
						failed++
						printError(rawURL + ": " + describe(term.State, term.Status, term.Err))
					default:
						printSuccess(rawURL + " → " + target)
					}
				}(e.URL, target)
			}
			wg.Wait()

			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(entries))
			}
			printSuccess(fmt.Sprintf("%d downloads complete", len(entries)))
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Per-download timeout (0 waits forever)")
	return cmd
}
