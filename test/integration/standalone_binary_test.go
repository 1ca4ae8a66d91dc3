package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryWorksOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "pulsegate")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/pulsegate")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "pulsegate")

	// Use a direct file copy to avoid relying on platform-specific tools.
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	// Isolate from any user config or archive on the host.
	env := append(os.Environ(),
		"HOME="+outside,
		"XDG_CONFIG_HOME="+filepath.Join(outside, "config"),
		"XDG_DATA_HOME="+filepath.Join(outside, "data"),
	)

	version := exec.Command(copiedBinary, "version")
	version.Dir = outside
	version.Env = env
	out, err := version.Output()
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "pulsegate ") {
		t.Fatalf("unexpected version output: %s", string(out))
	}

	for _, args := range [][]string{{"--help"}, {"boards", "--help"}, {"rate-limit", "list", "--help"}} {
		help := exec.Command(copiedBinary, args...)
		help.Dir = outside
		help.Env = env
		if out, err := help.CombinedOutput(); err != nil {
			t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, string(out))
		}
	}
}
