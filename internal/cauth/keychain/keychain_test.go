package keychain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	findStdout string
	findErr    error
	gStderr    string
	putErr     error
	lastArgs   []string
}

func (f *fakeRunner) Run(ctx context.Context, bin string, args []string) (string, string, error) {
	f.lastArgs = args
	if len(args) > 0 && args[0] == "find-generic-password" {
		for _, a := range args {
			if a == "-g" {
				return "", f.gStderr, nil
			}
		}
		return f.findStdout, "", f.findErr
	}
	return "", "", f.putErr
}

func TestFindReturnsTrimmedValue(t *testing.T) {
	runner := &fakeRunner{findStdout: "  secret-blob\n"}
	a := &Adapter{Bin: "security", Service: "Claude Code-credentials", Runner: runner}

	value, ok := a.Find(context.Background(), "")
	require.True(t, ok)
	require.Equal(t, "secret-blob", value)
}

func TestFindAbsentOnError(t *testing.T) {
	runner := &fakeRunner{findErr: assertError{}}
	a := &Adapter{Bin: "security", Service: "svc", Runner: runner}
	_, ok := a.Find(context.Background(), "")
	require.False(t, ok)
}

func TestPutResolvesAccountFromStderr(t *testing.T) {
	runner := &fakeRunner{gStderr: `keychain: "acct"<blob>="zuser"`}
	a := &Adapter{Bin: "security", Service: "svc", Runner: runner}

	require.NoError(t, a.Put(context.Background(), "data"))
	require.Contains(t, runner.lastArgs, "zuser")
}

func TestPutFallsBackToUserEnv(t *testing.T) {
	t.Setenv("USER", "envuser")
	runner := &fakeRunner{}
	a := &Adapter{Bin: "security", Service: "svc", Runner: runner}

	require.NoError(t, a.Put(context.Background(), "data"))
	require.Contains(t, runner.lastArgs, "envuser")
}

func TestPutFallsBackToDefault(t *testing.T) {
	t.Setenv("USER", "")
	runner := &fakeRunner{}
	a := &Adapter{Bin: "security", Service: "svc", Runner: runner}

	require.NoError(t, a.Put(context.Background(), "data"))
	require.Contains(t, runner.lastArgs, "default")
}

func TestPutErrorOnNonzeroExit(t *testing.T) {
	runner := &fakeRunner{putErr: assertError{}}
	a := &Adapter{Bin: "security", Service: "svc", Runner: runner}

	err := a.Put(context.Background(), "data")
	require.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "exit status 1" }
