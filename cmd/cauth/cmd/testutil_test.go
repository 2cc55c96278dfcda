package cmd

import (
	"context"
	"testing"

	"github.com/agent-island/cauth/internal/cauth/appconfig"
)

// fakeKeychain is an in-memory stand-in for keychain.Adapter, the way
// cmd/caam/cmd/activate_test.go swaps in a temp-dir vault rather than
// exercising the real OS keychain from a test.
type fakeKeychain struct {
	value string
	has   bool
}

func (k *fakeKeychain) Find(ctx context.Context, account string) (string, bool) {
	return k.value, k.has
}

func (k *fakeKeychain) Put(ctx context.Context, data string) error {
	k.value = data
	k.has = true
	return nil
}

// newTestApp builds an app rooted at t.TempDir(), with a fake in-memory
// keychain in place of shelling out to the real `security` binary.
func newTestApp(t *testing.T) *app {
	t.Helper()
	home := t.TempDir()
	cfg := appconfig.DefaultConfig()
	a := buildApp(home, cfg)

	kc := &fakeKeychain{}
	a.activeSync.Keychain = kc
	a.renderer.ActiveSync = a.activeSync
	a.orchestrator.ActiveSync = a.activeSync

	return a
}
