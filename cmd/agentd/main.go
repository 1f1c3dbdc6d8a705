// Command agentd is a demo DID-Exchange agent exercising this
// module's core end to end: mint an invitation, receive one, run the
// handshake, and send application messages. Grounded in the teacher's
// cli/cmd.Run / NewRootCommand shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperpeer/agent/cmd/agentd/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
