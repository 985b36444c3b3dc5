//go:build unix

package commands

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/logging"
)

// watchStackDumps writes all goroutine stacks to stderr and a file on
// SIGUSR1 until the returned stop function is called.
func watchStackDumps(logger *logging.Logger) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				dumpStacks(logger)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func dumpStacks(logger *logging.Logger) {
	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

	filename := fmt.Sprintf("devhandler-stacks-%d.txt", time.Now().Unix())
	f, err := os.Create(filename)
	if err != nil {
		logger.Warn("Failed to create stack dump file", "error", err)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
	f.Write(buf[:n])
	fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
	pprof.Lookup("goroutine").WriteTo(f, 2)

	logger.Info("Stack trace written to file", "file", filename)
}
