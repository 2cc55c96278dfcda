// Package keychain reads and writes the single generic password entry the
// active Claude credential mirrors into the OS keychain, by shelling out to
// a configurable keychain binary (macOS's /usr/bin/security by default).
package keychain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes a subprocess and captures its stdout/stderr. Production
// code uses processRunner (os/exec); tests inject a deterministic fake —
// the "callback-shaped dependency" design note's process-runner capability.
type Runner interface {
	Run(ctx context.Context, bin string, args []string) (stdout string, stderr string, exitErr error)
}

type processRunner struct{}

func (processRunner) Run(ctx context.Context, bin string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Adapter talks to the keychain binary for a single service name.
type Adapter struct {
	Bin     string
	Service string
	Runner  Runner
}

// New returns an Adapter using the real subprocess runner. bin defaults to
// "security" when empty (overridable via CAUTH_SECURITY_BIN upstream).
func New(bin, service string) *Adapter {
	if bin == "" {
		bin = "security"
	}
	return &Adapter{Bin: bin, Service: service, Runner: processRunner{}}
}

// Find returns the stored password for service (and, when given, account),
// trimmed. Absent on nonzero exit or empty output — never an error, since
// "no keychain entry yet" is an expected state.
func (a *Adapter) Find(ctx context.Context, account string) (string, bool) {
	args := []string{"find-generic-password", "-s", a.Service}
	if account != "" {
		args = append(args, "-a", account)
	}
	args = append(args, "-w")

	stdout, _, err := a.Runner.Run(ctx, a.Bin, args)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(stdout)
	if value == "" {
		return "", false
	}
	return value, true
}

var acctLinePattern = regexp.MustCompile(`"acct"<blob>="([^"]*)"`)

// Put writes data to the keychain entry for the adapter's service,
// resolving the account name from a prior find-generic-password -g probe's
// stderr, falling back to $USER then "default".
func (a *Adapter) Put(ctx context.Context, data string) error {
	account := a.resolveAccount(ctx)

	args := []string{"add-generic-password", "-a", account, "-s", a.Service, "-w", data, "-U"}
	_, stderr, err := a.Runner.Run(ctx, a.Bin, args)
	if err != nil {
		return fmt.Errorf("keychain write failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

func (a *Adapter) resolveAccount(ctx context.Context) string {
	_, stderr, _ := a.Runner.Run(ctx, a.Bin, []string{"find-generic-password", "-s", a.Service, "-g"})
	if m := acctLinePattern.FindStringSubmatch(stderr); len(m) == 2 && m[1] != "" {
		return m[1]
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "default"
}
