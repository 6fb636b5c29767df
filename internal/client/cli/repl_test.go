package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubExec struct {
	loggedIn bool
	calls    map[string]int
}

func newStubExec(loggedIn bool) *stubExec {
	return &stubExec{loggedIn: loggedIn, calls: map[string]int{}}
}

func (s *stubExec) isLoggedIn() bool                      { return s.loggedIn }
func (s *stubExec) Register(ctx context.Context) error    { s.calls["register"]++; return nil }
func (s *stubExec) Login(ctx context.Context) error       { s.calls["login"]++; return nil }
func (s *stubExec) Chats(ctx context.Context) error       { s.calls["chats"]++; return nil }
func (s *stubExec) Open(ctx context.Context) error        { s.calls["open"]++; return nil }
func (s *stubExec) Messages(ctx context.Context) error    { s.calls["messages"]++; return nil }
func (s *stubExec) Send(ctx context.Context) error        { s.calls["send"]++; return nil }
func (s *stubExec) Cancel(ctx context.Context) error      { s.calls["cancel"]++; return nil }
func (s *stubExec) Edit(ctx context.Context) error        { s.calls["edit"]++; return nil }
func (s *stubExec) SetModel(ctx context.Context) error    { s.calls["setmodel"]++; return nil }
func (s *stubExec) Sync(ctx context.Context) error        { s.calls["sync"]++; return nil }
func (s *stubExec) Logout(ctx context.Context) error      { s.calls["logout"]++; return nil }

func runWithInput(t *testing.T, exec execIface, input string) []string {
	t.Helper()

	var output []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		for _, v := range a {
			if s, ok := v.(string); ok {
				output = append(output, s)
			}
		}
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })

	scanner := bufio.NewScanner(strings.NewReader(input))
	runREPL(context.Background(), exec, func() string { return "test" }, scanner)
	return output
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	exec := newStubExec(true)

	runWithInput(t, exec, "chats\nopen\nmessages\nsend\ncancel\nedit\nsetmodel\nsync\nlogout\nexit\n")

	for _, cmd := range []string{"chats", "open", "messages", "send", "cancel", "edit", "setmodel", "sync", "logout"} {
		assert.Equal(t, 1, exec.calls[cmd], "command %q not dispatched", cmd)
	}
}

func TestRunREPL_ShortAliases(t *testing.T) {
	exec := newStubExec(true)
	runWithInput(t, exec, "m\nexit\n")
	assert.Equal(t, 1, exec.calls["messages"])
}

func TestRunREPL_UnknownCommand(t *testing.T) {
	exec := newStubExec(false)
	out := runWithInput(t, exec, "frobnicate\nexit\n")
	assert.Contains(t, out, "Unknown command:")
}

func TestRunREPL_ExitsOnEOF(t *testing.T) {
	exec := newStubExec(false)
	runWithInput(t, exec, "")
	assert.Empty(t, exec.calls)
}

func TestRunREPL_HelpDependsOnLogin(t *testing.T) {
	out := runWithInput(t, newStubExec(false), "help\nexit\n")
	assert.Contains(t, strings.Join(out, " "), "register, login")

	out = runWithInput(t, newStubExec(true), "help\nexit\n")
	assert.Contains(t, strings.Join(out, " "), "setmodel")
}
