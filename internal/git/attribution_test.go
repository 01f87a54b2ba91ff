package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func hasGit(t *testing.T) bool {
	t.Helper()
	_, err := exec.LookPath("git")
	return err == nil
}

func TestBlame_NonGitDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	os.WriteFile(path, []byte("body"), 0o644)

	a := Attributor{}
	createdBy, modifiedBy := a.Blame(path)
	if createdBy != "" || modifiedBy != "" {
		t.Fatalf("expected empty attribution outside a git repo, got (%q, %q)", createdBy, modifiedBy)
	}
}

func TestBlame_InGitRepo(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=tester", "GIT_AUTHOR_EMAIL=tester@example.com",
			"GIT_COMMITTER_NAME=tester", "GIT_COMMITTER_EMAIL=tester@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	path := filepath.Join(dir, "note.md")
	os.WriteFile(path, []byte("body"), 0o644)
	run("add", "note.md")
	run("commit", "-m", "add note")

	a := Attributor{}
	createdBy, modifiedBy := a.Blame(path)
	if createdBy != "tester" || modifiedBy != "tester" {
		t.Fatalf("expected tester/tester, got (%q, %q)", createdBy, modifiedBy)
	}
}
