package cmd

import (
	"testing"
)

func TestVerboseFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("verbose")
	if flag == nil {
		t.Fatal("--verbose flag not found")
	}
	if flag.Shorthand != "v" {
		t.Errorf("--verbose shorthand = %q, want %q", flag.Shorthand, "v")
	}
	if flag.DefValue != "0" {
		t.Errorf("--verbose default = %q, want %q", flag.DefValue, "0")
	}
}

func TestDryRunFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("dry-run")
	if flag == nil {
		t.Fatal("--dry-run flag not found")
	}
	if flag.DefValue != "false" {
		t.Errorf("--dry-run default = %q, want %q", flag.DefValue, "false")
	}
}

func TestSubcommands(t *testing.T) {
	want := []string{"do", "code", "review", "task", "purge"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRunFlags(t *testing.T) {
	for _, c := range []string{"do", "code", "review", "task"} {
		cmd, _, err := rootCmd.Find([]string{c})
		if err != nil {
			t.Fatalf("Find(%q): %v", c, err)
		}
		for _, name := range []string{"base-branch", "branch", "isolation", "keep", "no-keep", "merge", "notify", "no-notify"} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("%s: --%s flag not found", c, name)
			}
		}
		if got := cmd.Flags().Lookup("base-branch").DefValue; got != "HEAD" {
			t.Errorf("%s: --base-branch default = %q, want HEAD", c, got)
		}
		if got := cmd.Flags().ShorthandLookup("b"); got == nil || got.Name != "branch" {
			t.Errorf("%s: -b is not --branch", c)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	origV, origC, origD := version, commit, date
	defer SetVersionInfo(origV, origC, origD)

	SetVersionInfo("1.2.3", "none", "unknown")
	if got, want := versionTemplate(), "papagai 1.2.3\n"; got != want {
		t.Errorf("versionTemplate() = %q, want %q", got, want)
	}

	SetVersionInfo("1.2.3", "abc123", "2025-01-01")
	if got, want := versionTemplate(), "papagai 1.2.3\n  commit: abc123\n  built:  2025-01-01\n"; got != want {
		t.Errorf("versionTemplate() = %q, want %q", got, want)
	}
}
