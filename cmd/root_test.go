package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(append(args, "--log-file", filepath.Join(t.TempDir(), "shabi.log")))
	code := ExitCode(root.Execute())
	return code, stdout.String()
}

func TestExitCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.bin") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", "7")
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no mode", []string{}, ExitInvalid},
		{"bad mode", []string{"5", "-u", server.URL + "/a.bin"}, ExitInvalid},
		{"single with two urls", []string{"1", "-u", server.URL + "/a.bin", server.URL + "/b.bin"}, ExitInvalid},
		{"bad scheme", []string{"1", "-u", "ftp://example.com/a.bin"}, ExitInvalid},
		{"collision", []string{"2", "-u", server.URL + "/x/a.bin", server.URL + "/y/a.bin"}, ExitInvalid},
		{"unknown flag", []string{"1", "--nope"}, ExitInvalid},
		{"directory", []string{"1", "-u", server.URL + "/a.bin", "-d", filepath.Join(blocker, "sub")}, ExitDirectory},
		{"failed task", []string{"2", "-u", server.URL + "/a.bin", server.URL + "/missing.bin", "--retries", "1"}, ExitFailed},
		{"success", []string{"2", "-u", server.URL + "/a.bin", server.URL + "/b.bin", "-t", "2"}, ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{}, tt.args...)
			if tt.want != ExitDirectory {
				args = append(args, "-d", t.TempDir())
			}
			code, out := execute(t, args...)
			if code != tt.want {
				t.Errorf("expected exit code %d, got %d\n%s", tt.want, code, out)
			}
		})
	}
}

func TestSingleModeWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "7")
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	dir := t.TempDir()
	code, out := execute(t, "1", server.URL+"/file.txt", "-d", dir)
	if code != ExitOK {
		t.Fatalf("expected exit 0, got %d\n%s", code, out)
	}
	got, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	if err != nil || string(got) != "payload" {
		t.Errorf("unexpected file content %q: %v", got, err)
	}
	for _, want := range []string{"Starting download of 1 file(s)", "Download completed", "Completed 1 of 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
