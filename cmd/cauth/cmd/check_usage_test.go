package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunCheckUsage_NoActiveCredentialReportsClaudeError(t *testing.T) {
	a := newTestApp(t)
	oldApp := newApp
	newApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { newApp = oldApp })

	checkUsageAccount = ""
	checkUsageJSON = false
	var out bytes.Buffer
	checkUsageCmd.SetOut(&out)
	t.Cleanup(func() { checkUsageCmd.SetOut(nil) })

	if err := runCheckUsage(checkUsageCmd, nil); err != nil {
		t.Fatalf("runCheckUsage() error = %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "Claude: error") {
		t.Fatalf("runCheckUsage() output = %q, want a Claude error line", text)
	}
	if !strings.Contains(text, "recommendation: No usage data available") {
		t.Fatalf("runCheckUsage() output = %q, want the no-data recommendation", text)
	}
}

func TestRunCheckUsage_JSONEnvelope(t *testing.T) {
	a := newTestApp(t)
	oldApp := newApp
	newApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { newApp = oldApp })

	checkUsageAccount = ""
	checkUsageJSON = true
	t.Cleanup(func() { checkUsageJSON = false })
	var out bytes.Buffer
	checkUsageCmd.SetOut(&out)
	t.Cleanup(func() { checkUsageCmd.SetOut(nil) })

	if err := runCheckUsage(checkUsageCmd, nil); err != nil {
		t.Fatalf("runCheckUsage() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("runCheckUsage() --json output not valid JSON: %v\n%s", err, out.String())
	}
	claude, ok := decoded["claude"].(map[string]interface{})
	if !ok {
		t.Fatalf("decoded output missing \"claude\" object: %v", decoded)
	}
	if claude["name"] != "Claude" {
		t.Fatalf("claude.name = %v, want \"Claude\"", claude["name"])
	}
	if claude["error"] != true {
		t.Fatalf("claude.error = %v, want true", claude["error"])
	}
}
