package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmorcellet/delta-downloads/internal/data"
	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
	"github.com/dmorcellet/delta-downloads/internal/downloader"
)

const cancelGrace = 5 * time.Second

var errNotOK = errors.New("download did not complete")

func newGetCmd() *cobra.Command {
	var (
		output  string
		timeout time.Duration
		policy  string
	)
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a single URL and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = filepath.Join(cfg.DownloadDir, nameFromURL(args[0]))
			}
			p := cfg.Policy()
			if policy != "" {
				p = downloadcfg.ParseCollisionPolicy(policy)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := downloader.NewRegistry(newTransport())
			reg.SetLogger(logger)
			term, err := runOne(ctx, reg, args[0], target, p, timeout, newProgressPrinter())
			if err != nil {
				printError(err.Error())
				return err
			}
			if term.State != data.StateOK {
				printError(describe(term.State, term.Status, term.Err))
				return errNotOK
			}
			printSuccess("saved " + target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Target file path or bucket URL (default: download dir + URL file name)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Give up and cancel after this long (0 waits forever)")
	cmd.Flags().StringVar(&policy, "on-exists", "", "What to do when the file exists: error, overwrite or rename")
	return cmd
}

// runOne creates, starts and waits for one download. When the wait ends
// with the download still running (timeout or interrupt) it is cancelled
// and given a little longer to settle.
func runOne(ctx context.Context, reg *downloader.Registry, rawURL, target string, p downloadcfg.CollisionPolicy, timeout time.Duration, l downloader.Listener) (downloader.Termination, error) {
	task, err := reg.NewTargetDownload(rawURL, target, p)
	if err != nil {
		return downloader.Termination{}, err
	}
	if err := reg.StartDownload(ctx, task, l); err != nil {
		return downloader.Termination{State: task.State()}, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	term := reg.WaitForTaskTermination(waitCtx, task)
	if term.State.Terminal() {
		return term, nil
	}

	logger.Warn("giving up on download", "id", task.ID(), "url", rawURL, "err", term.Err)
	_ = reg.Cancel(task.ID())
	graceCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	final := reg.WaitForTaskTermination(graceCtx, task)
	if !final.State.Terminal() {
		return final, fmt.Errorf("download %s did not stop: %w", task.ID(), final.Err)
	}
	return final, nil
}

// newProgressPrinter prints the size once known and progress at most
// twice a second.
func newProgressPrinter() downloader.Listener {
	var (
		mu        sync.Mutex
		last      time.Time
		announced bool
	)
	return downloader.ListenerFunc(func(t *data.Task) {
		mu.Lock()
		defer mu.Unlock()
		if !announced {
			announced = true
			printPending("downloading " + t.URL())
		}
		if t.State().Terminal() || time.Since(last) < 500*time.Millisecond {
			return
		}
		last = time.Now()
		total, known := t.ExpectedSize()
		fmt.Println(progressLine(t.DoneSize(), total, known))
	})
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
