package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arcway/toolops/internal/agent"
	"github.com/arcway/toolops/pkg/models"
)

// consoleExternalID is the single fixed peer identity the console channel
// maps every line of stdin to; a real channel adapter would derive this
// from the inbound platform message instead.
const consoleExternalID = "console"

// runConsole drives a single-session REPL over stdin/stdout: each line is
// dispatched through Agent.GetResponse and the reply is printed. It returns
// when stdin is closed, ctx is cancelled, or reading fails.
func runConsole(ctx context.Context, a *agent.Agent) error {
	_, welcome, err := a.StartNewSession(ctx, consoleExternalID)
	if err != nil {
		return fmt.Errorf("starting console session: %w", err)
	}
	fmt.Println(welcome)

	lines := make(chan string)
	readErrs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			readErrs <- err
			return
		}
		readErrs <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			envelope, err := a.GetResponse(ctx, consoleExternalID, line, models.RoleUser, models.InteractionChat)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(envelope.Response)
		}
	}
}
