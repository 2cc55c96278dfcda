package cmd

import "testing"

func TestExactArgs_RejectsWrongCount(t *testing.T) {
	check := exactArgs(1, "usage: cauth save <profile-name>")

	if err := check(nil, []string{"one"}); err != nil {
		t.Fatalf("exactArgs(1) with one arg: unexpected error = %v", err)
	}

	err := check(nil, []string{})
	if err == nil {
		t.Fatal("exactArgs(1) with zero args: want error, got nil")
	}
	if !IsUsageError(err) {
		t.Fatalf("exactArgs(1) error = %v, want a usage error", err)
	}
	if err.Error() != "usage: cauth save <profile-name>" {
		t.Fatalf("exactArgs(1) error message = %q", err.Error())
	}
}

func TestIsUsageError_FalseForPlainError(t *testing.T) {
	if IsUsageError(nil) {
		t.Fatal("IsUsageError(nil) = true, want false")
	}
	if IsUsageError(errPlain("boom")) {
		t.Fatal("IsUsageError(plain error) = true, want false")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
