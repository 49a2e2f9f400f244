package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"savesync/internal/config"
)

func TestPullTarget(t *testing.T) {
	got, err := pullTarget("", "slot1.sav")
	if err != nil || got != "slot1.sav" {
		t.Fatalf("expected server filename, got %q (%v)", got, err)
	}
	got, err = pullTarget("", "slot.1.sav")
	if err != nil || got != "slot.1.sav" {
		t.Fatalf("expected inner dots to be fine, got %q (%v)", got, err)
	}
	got, err = pullTarget(".bashrc", ".bashrc")
	if err != nil || got != ".bashrc" {
		t.Fatalf("expected explicit --out to be honored, got %q (%v)", got, err)
	}
	got, err = pullTarget("out/x.sav", "../evil")
	if err != nil || got != "out/x.sav" {
		t.Fatalf("expected --out to win, got %q (%v)", got, err)
	}
	for _, name := range []string{"", "../evil", "a/b", "..", ".bashrc", " .profile", "..hidden"} {
		if _, err := pullTarget("", name); err == nil {
			t.Fatalf("expected %q to be refused", name)
		}
	}
}

func TestTokenDBPath(t *testing.T) {
	cfg := config.Default()
	if _, err := tokenDBPath(&cfg, ""); err == nil {
		t.Fatal("expected file token source to require --db")
	}
	if got, err := tokenDBPath(&cfg, "/tmp/x.db"); err != nil || got != "/tmp/x.db" {
		t.Fatalf("expected flag path, got %q (%v)", got, err)
	}
	cfg.TokenSource = "sqlite:/var/lib/savesync/tokens.db"
	if got, err := tokenDBPath(&cfg, ""); err != nil || got != "/var/lib/savesync/tokens.db" {
		t.Fatalf("expected configured path, got %q (%v)", got, err)
	}
}

func TestReadTokenLine(t *testing.T) {
	got, err := readTokenLine(strings.NewReader("  abcdefghijklmnop  \nignored\n"))
	if err != nil || got != "abcdefghijklmnop" {
		t.Fatalf("expected first line, got %q (%v)", got, err)
	}
	if _, err := readTokenLine(strings.NewReader("")); err == nil {
		t.Fatal("expected empty stdin to fail")
	}
}

func TestTokenIssueAndListAgainstSQLite(t *testing.T) {
	cfg := config.Default()
	dbPath := filepath.Join(t.TempDir(), "tokens.db")
	cfg.TokenSource = "sqlite:" + dbPath
	t.Setenv(logLevelEnvKey, "error")

	stdout := captureStdout(t, func() {
		root := newRootCmd(&cfg)
		root.SetArgs([]string{"token", "issue", "ichi", "--label", "deck"})
		if err := root.Execute(); err != nil {
			t.Fatalf("issue: %v", err)
		}
	})
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "issued tk-") {
		t.Fatalf("unexpected issue output: %q", stdout)
	}

	stdout = captureStdout(t, func() {
		root := newRootCmd(&cfg)
		root.SetArgs([]string{"token", "list"})
		if err := root.Execute(); err != nil {
			t.Fatalf("list: %v", err)
		}
	})
	if !strings.Contains(stdout, "\tichi\tactive\t") || !strings.Contains(stdout, "deck") {
		t.Fatalf("unexpected list output: %q", stdout)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.String()
	}()

	fn()
	_ = w.Close()
	return <-done
}
