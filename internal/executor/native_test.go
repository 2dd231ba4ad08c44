package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// TestHelperProcess is re-executed by the native runner tests as a stand-in tool binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "echo":
		fmt.Println(strings.Join(args[2:], " "))
	case "sleep":
		time.Sleep(30 * time.Second)
	case "exit":
		code, _ := strconv.Atoi(args[2])
		os.Exit(code)
	case "env":
		for _, kv := range os.Environ() {
			fmt.Println(kv)
		}
	}
	os.Exit(0)
}

func helperDescriptor(t *testing.T) models.ToolDescriptor {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	return models.ToolDescriptor{
		ID:           "helper",
		NativeBinary: self,
		Resources:    models.ResourceProfile{Timeout: 10 * time.Second},
		EnvAllowList: []string{"GO_WANT_HELPER_PROCESS", "HTTPS_PROXY"},
	}
}

func helperEnv(extra map[string]string) LookupEnv {
	env := map[string]string{"GO_WANT_HELPER_PROCESS": "1"}
	for k, v := range extra {
		env[k] = v
	}
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func TestNativeRunnerSuccess(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookupEnv: helperEnv(nil)})
	result := runner.Run(context.Background(), helperDescriptor(t), models.ExecutionRequest{Args: helperArgs("echo", "alice; rm -rf /")})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.ExitStatus != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitStatus)
	}
	if strings.TrimSpace(string(result.Output)) != "alice; rm -rf /" {
		t.Fatalf("expected argv passed verbatim without a shell, got %q", result.Output)
	}
	if result.Mode != models.ModeNative {
		t.Fatalf("expected native mode, got %s", result.Mode)
	}
}

func TestNativeRunnerTimeout(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookupEnv: helperEnv(nil), WaitDelay: 100 * time.Millisecond})
	desc := helperDescriptor(t)
	desc.Resources.Timeout = 200 * time.Millisecond

	start := time.Now()
	result := runner.Run(context.Background(), desc, models.ExecutionRequest{Args: helperArgs("sleep")})
	if !errors.Is(result.Err, utils.ErrExecutionTimeout) {
		t.Fatalf("expected timeout, got %v", result.Err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("runner did not enforce the timeout")
	}
}

func TestNativeRunnerNonZeroExit(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookupEnv: helperEnv(nil)})
	result := runner.Run(context.Background(), helperDescriptor(t), models.ExecutionRequest{Args: helperArgs("exit", "3")})
	if result.Err != nil {
		t.Fatalf("expected exit status, not error: %v", result.Err)
	}
	if result.ExitStatus != 3 {
		t.Fatalf("expected exit 3, got %d", result.ExitStatus)
	}
	if result.Succeeded() {
		t.Fatalf("non-zero exit must not count as success")
	}
}

func TestNativeRunnerForwardsOnlyAllowListedEnv(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookupEnv: helperEnv(map[string]string{
		"AWS_SECRET_ACCESS_KEY": "leak-me",
		"HTTPS_PROXY":           "http://127.0.0.1:8080",
	})})
	result := runner.Run(context.Background(), helperDescriptor(t), models.ExecutionRequest{Args: helperArgs("env")})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	out := string(result.Output)
	if strings.Contains(out, "AWS_SECRET_ACCESS_KEY") {
		t.Fatalf("secret leaked into tool environment")
	}
	if strings.Contains(out, "HTTPS_PROXY") {
		t.Fatalf("loopback proxy should have been dropped")
	}
	if !strings.Contains(out, "GO_WANT_HELPER_PROCESS=1") {
		t.Fatalf("expected allow-listed variable, got %q", out)
	}
}

func TestNativeRunnerMissingBinary(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookPath: func(string) (string, error) {
		return "", errors.New("not found")
	}})
	result := runner.Run(context.Background(), models.ToolDescriptor{ID: "ghost", NativeBinary: "ghost"}, models.ExecutionRequest{})
	if !errors.Is(result.Err, utils.ErrToolNotAvailable) {
		t.Fatalf("expected ErrToolNotAvailable, got %v", result.Err)
	}
}

func TestNativeRunnerCapsOutput(t *testing.T) {
	runner := NewNativeRunner(nil, NativeOptions{LookupEnv: helperEnv(nil), OutputLimit: 5})
	result := runner.Run(context.Background(), helperDescriptor(t), models.ExecutionRequest{Args: helperArgs("echo", "0123456789")})
	if string(result.Output) != "01234" || !result.Truncated {
		t.Fatalf("expected capped output, got %q truncated=%v", result.Output, result.Truncated)
	}
}
