// Command devicelogin signs in to a devicelogin server with the OAuth 2.0
// device authorization grant and keeps the resulting token on disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wrale/devicelogin/internal/login"
)

// Version is set by the build process
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitErr *login.ExitError
		if !errors.As(err, &exitErr) {
			// cobra already printed usage errors; orchestrator errors were shown to the user
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(login.ExitCode(err))
}
