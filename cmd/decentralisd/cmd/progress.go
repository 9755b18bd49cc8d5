package cmd

import (
	"time"

	"github.com/schollz/progressbar/v3"
)

// withSpinner runs fn while an indeterminate progress bar animates, for
// the one-shot commands whose underlying calls (chunk_file,
// distribute_chunks, reconstruct_file) don't expose incremental
// progress of their own.
func withSpinner(description string, fn func() error) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	stop := make(chan struct{})
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	err := fn()
	close(stop)
	<-ticked
	_ = bar.Finish()
	return err
}
