package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmediakit/msclient/internal/output"
)

func TestRootCommand(t *testing.T) {
	cmd := rootCmd
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	help := buf.String()
	if !strings.Contains(help, "msc") {
		t.Error("Help output should mention msc")
	}
	if !strings.Contains(help, "upload") {
		t.Error("Help output should mention upload command")
	}
	if !strings.Contains(help, "backup") {
		t.Error("Help output should mention backup command")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(buf.String(), "msc version") {
		t.Errorf("version output = %q, want it to contain %q", buf.String(), "msc version")
	}
}

var (
	mp4Head  = append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...)
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xDB}
)

func TestCollectMediaFiles(t *testing.T) {
	printer = output.New(output.WithQuiet(true))

	dir := t.TempDir()
	files := map[string][]byte{
		"video.mp4":    mp4Head,
		"photo.jpg":    jpegHead,
		"notes.txt":    []byte("plain text"),
		"sub/clip.mp4": mp4Head,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("top level only", func(t *testing.T) {
		got, err := collectMediaFiles(dir, false)
		if err != nil {
			t.Fatalf("collectMediaFiles() error = %v", err)
		}
		want := []string{
			filepath.Join(dir, "photo.jpg"),
			filepath.Join(dir, "video.mp4"),
		}
		if len(got) != len(want) {
			t.Fatalf("collectMediaFiles() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("collectMediaFiles()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("recursive", func(t *testing.T) {
		got, err := collectMediaFiles(dir, true)
		if err != nil {
			t.Fatalf("collectMediaFiles() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("collectMediaFiles() returned %d files, want 3: %v", len(got), got)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := collectMediaFiles(filepath.Join(dir, "nope"), false); err == nil {
			t.Error("collectMediaFiles() should fail on a missing directory")
		}
	})
}

func TestIsMediaFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"clip.mp4", mp4Head, true},
		{"photo.jpg", jpegHead, true},
		{"renamed.bin", mp4Head, true},
		{"notes.txt", []byte("plain text"), false},
		{"empty.mp4", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := isMediaFile(path)
			if err != nil {
				t.Fatalf("isMediaFile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("isMediaFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "****"},
		{"12345678", "****"},
		{"aaaabbbbccccdddd", "aaaa...dddd"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := maskKey(tt.key); got != tt.want {
				t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestResolveConfPath(t *testing.T) {
	oldFlag := confFlag
	defer func() { confFlag = oldFlag }()

	t.Run("flag wins", func(t *testing.T) {
		confFlag = "/tmp/custom.json"
		t.Setenv(envConf, "/tmp/env.json")
		if got := resolveConfPath(); got != "/tmp/custom.json" {
			t.Errorf("resolveConfPath() = %q, want %q", got, "/tmp/custom.json")
		}
	})

	t.Run("env var", func(t *testing.T) {
		confFlag = ""
		t.Setenv(envConf, "/tmp/env.json")
		if got := resolveConfPath(); got != "/tmp/env.json" {
			t.Errorf("resolveConfPath() = %q, want %q", got, "/tmp/env.json")
		}
	})

	t.Run("user config dir", func(t *testing.T) {
		confFlag = ""
		t.Setenv(envConf, "")
		got := resolveConfPath()
		if !strings.HasSuffix(got, defaultConfFile) {
			t.Errorf("resolveConfPath() = %q, want a path ending in %q", got, defaultConfFile)
		}
	})
}
