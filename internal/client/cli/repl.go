package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Chats(ctx context.Context) error
	Open(ctx context.Context) error
	Messages(ctx context.Context) error
	Send(ctx context.Context) error
	Cancel(ctx context.Context) error
	Edit(ctx context.Context) error
	SetModel(ctx context.Context) error
	Sync(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Root starts the REPL on stdin.
func (a *App) Root(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, func() string {
		if a.isLoggedIn() {
			return "online"
		}
		return "logged out"
	}, scanner)
}

// runREPL reads a line, parses the first token as the command, and
// dispatches to methods on 'a'. The loop exits on scanner EOF or when the
// user types "exit" or "quit". Errors returned by command handlers are
// ignored here; handlers print their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("wc> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: chats, open, (m)essages, send, cancel, edit, setmodel, sync, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "chats":
			_ = a.Chats(ctx)

		case "open":
			_ = a.Open(ctx)

		case "m", "messages":
			_ = a.Messages(ctx)

		case "send":
			_ = a.Send(ctx)

		case "cancel":
			_ = a.Cancel(ctx)

		case "edit":
			_ = a.Edit(ctx)

		case "setmodel":
			_ = a.SetModel(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
