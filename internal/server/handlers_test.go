package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"deployhook/internal/environment"
	"deployhook/internal/target"
	"deployhook/internal/webhook"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

const (
	githubMergedIntoDev  = `{"action":"closed","number":42,"pull_request":{"merged":true,"base":{"ref":"dev"}}}`
	githubMergedIntoMain = `{"action":"closed","number":42,"pull_request":{"merged":true,"base":{"ref":"main"}}}`
	giteeMergedIntoProd  = `{"action":"merge","iid":7,"target_branch":"prod"}`
)

func setupTestServer(t *testing.T, scriptBody string) *Server {
	t.Helper()

	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "auto_deploy.sh")
	if err := os.WriteFile(script, []byte(scriptBody), 0750); err != nil {
		t.Fatalf("Failed to write deploy script: %v", err)
	}

	cfg := target.Config{
		Host:       "127.0.0.1",
		Port:       9000,
		Secret:     testSecret,
		Timeout:    5 * time.Second,
		LogDir:     tmpDir,
		Location:   time.UTC,
		TestHosts:  []string{"test.example.com"},
		Test:       environment.DefaultTestProfile(),
		Production: environment.DefaultProductionProfile(),
		Scripts: target.ScriptSet{
			Unix:         script,
			Windows:      filepath.Join(tmpDir, "auto_deploy.bat"),
			UnixShell:    "sh",
			WindowsShell: "cmd /C",
		},
		Targets: map[string]*target.Target{
			"server": {
				Name:       "server",
				Path:       "/webhook/server",
				RemoteURL:  "git@github.com:acme/server.git",
				PM2AppName: "server",
				LogPath:    filepath.Join(tmpDir, "deploy-server.log"),
				Secret:     testSecret,
			},
			"client": {
				Name:       "client",
				Path:       "/webhook-client",
				RemoteURL:  "https://gitee.com/acme/client.git",
				PM2AppName: "client",
				LogPath:    filepath.Join(tmpDir, "deploy-client.log"),
				Secret:     "client-secret-also-long-enough-xx",
			},
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	server := NewServer(cfg, logger, true)
	t.Cleanup(server.WaitForDeployments)
	return server
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("deploy scripts in these tests use sh")
	}
}

func githubRequest(path, host string, payload []byte, secret string) *http.Request {
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderGitHubEvent, "pull_request")
	req.Header.Set(webhook.HeaderGitHubSignature, MakeTestSignature(payload, secret))
	return req
}

func giteeRequest(path, host string, payload []byte, token string) *http.Request {
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderGiteeEvent, "Merge Request Hook")
	req.Header.Set(webhook.HeaderGiteeToken, token)
	return req
}

func serve(server *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	var response map[string]interface{}
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	return rr, response
}

func TestHandleWebhook_UnknownRoute(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/unknown", "test.example.com", []byte(githubMergedIntoDev), testSecret)
	rr, _ := serve(server, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	largePayload := make([]byte, MaxPayloadBytes+1)
	req := githubRequest("/webhook/server", "test.example.com", largePayload, testSecret)
	rr, _ := serve(server, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestHandleWebhook_InvalidContentType(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoDev), testSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr, _ := serve(server, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", rr.Code)
	}
}

func TestHandleWebhook_UnsupportedSourceBeforeContentType(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := httptest.NewRequest("POST", "/webhook/server", strings.NewReader("payload=%7B%7D"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr, response := serve(server, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if response["error"] != "Unsupported source" {
		t.Errorf("Expected 'Unsupported source' error, got %v", response)
	}
}

func TestHandleWebhook_ContentTypeWithCharset(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoMain), testSecret)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr, _ := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestHandleWebhook_UnsupportedSource(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := httptest.NewRequest("POST", "/webhook/server", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	rr, response := serve(server, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if response["error"] != "Unsupported source" {
		t.Errorf("Expected 'Unsupported source' error, got %v", response)
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoDev), "wrong-secret-32-chars-long-xxxxxxx")
	rr, response := serve(server, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
	if response["error"] != "Unauthorized" {
		t.Errorf("Expected 'Unauthorized' error, got %v", response)
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoDev), testSecret)
	req.Header.Del(webhook.HeaderGitHubSignature)
	rr, _ := serve(server, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestHandleWebhook_SecretIsPerTarget(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	// The server secret does not authenticate requests for the client target.
	req := giteeRequest("/webhook-client", "prod.example.com", []byte(giteeMergedIntoProd), testSecret)
	rr, _ := serve(server, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(`{"action":`), testSecret)
	rr, response := serve(server, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if response["error"] != "Invalid JSON payload" {
		t.Errorf("Expected 'Invalid JSON payload' error, got %v", response)
	}
}

func TestHandleWebhook_BranchMismatchIgnored(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoMain), testSecret)
	rr, response := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if response["status"] != StatusIgnored {
		t.Errorf("Expected ignored status, got %v", response)
	}
	if _, ok := response["job_id"]; ok {
		t.Errorf("Ignored event must not create a job: %v", response)
	}
}

func TestHandleWebhook_IgnoredIsIdempotent(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	payload := []byte(githubMergedIntoMain)
	var firstReason interface{}
	for i := 0; i < 3; i++ {
		rr, response := serve(server, githubRequest("/webhook/server", "test.example.com", payload, testSecret))
		if rr.Code != http.StatusOK || response["status"] != StatusIgnored {
			t.Fatalf("attempt %d: expected ignored, got %d %v", i, rr.Code, response)
		}
		if i == 0 {
			firstReason = response["reason"]
		} else if response["reason"] != firstReason {
			t.Errorf("attempt %d: reason changed from %v to %v", i, firstReason, response["reason"])
		}
	}
}

func TestHandleWebhook_ProductionHostUsesProductionBranch(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	// A merge into dev does not deploy when the host resolves to production.
	req := githubRequest("/webhook/server", "deploy.example.com", []byte(githubMergedIntoDev), testSecret)
	rr, response := serve(server, req)

	if rr.Code != http.StatusOK || response["status"] != StatusIgnored {
		t.Errorf("Expected ignored, got %d %v", rr.Code, response)
	}
}

func TestHandleWebhook_GitHubMergeTriggersDeploy(t *testing.T) {
	requireShell(t)
	server := setupTestServer(t, "echo deploying\nexit 0\n")

	req := githubRequest("/webhook/server", "Test.Example.com:9000", []byte(githubMergedIntoDev), testSecret)
	rr, response := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", rr.Code, response)
	}
	if response["status"] != StatusTriggered {
		t.Errorf("Expected triggered status, got %v", response)
	}
	if id, _ := response["job_id"].(string); id == "" {
		t.Errorf("Expected job_id, got %v", response)
	}
	reason, _ := response["reason"].(string)
	if !strings.Contains(reason, "42") || !strings.Contains(reason, "dev") {
		t.Errorf("Reason should name PR and branch, got %q", reason)
	}

	server.WaitForDeployments()

	running, last := server.Supervisor.Status("server")
	if running {
		t.Error("No deploy should be running after WaitForDeployments")
	}
	if last == nil || last.State != "succeeded" {
		t.Errorf("Expected succeeded outcome, got %+v", last)
	}
}

func TestHandleWebhook_GiteeMergeTriggersDeploy(t *testing.T) {
	requireShell(t)
	server := setupTestServer(t, "exit 0\n")

	req := giteeRequest("/webhook-client", "prod.example.com", []byte(giteeMergedIntoProd), "client-secret-also-long-enough-xx")
	rr, response := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %v", rr.Code, response)
	}
	if response["reason"] != "Gitee MR #7 merged into prod" {
		t.Errorf("Unexpected reason: %v", response["reason"])
	}
}

func TestHandleWebhook_ForwardedHost(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")
	server.Config.TrustForwardedHost = true

	// Host alone resolves to production; the forwarded host is a test host.
	req := githubRequest("/webhook/server", "internal:9000", []byte(githubMergedIntoMain), testSecret)
	req.Header.Set("X-Forwarded-Host", "test.example.com, proxy.local")

	if got := server.requestHost(req); got != "test.example.com" {
		t.Errorf("requestHost() = %q, want test.example.com", got)
	}

	server.Config.TrustForwardedHost = false
	if got := server.requestHost(req); got != "internal:9000" {
		t.Errorf("requestHost() = %q, want internal:9000", got)
	}
}

func TestHandleWebhook_ConcurrentDeployment(t *testing.T) {
	requireShell(t)
	server := setupTestServer(t, "sleep 0.5\nexit 0\n")

	payload := []byte(githubMergedIntoDev)

	rr1, _ := serve(server, githubRequest("/webhook/server", "test.example.com", payload, testSecret))
	if rr1.Code != http.StatusOK {
		t.Fatalf("First request: expected 200, got %d", rr1.Code)
	}

	rr2, response := serve(server, githubRequest("/webhook/server", "test.example.com", payload, testSecret))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected 429, got %d", rr2.Code)
	}
	if response["error"] != "Deployment already in progress" {
		t.Errorf("Unexpected error: %v", response)
	}

	server.WaitForDeployments()

	rr3, _ := serve(server, githubRequest("/webhook/server", "test.example.com", payload, testSecret))
	if rr3.Code != http.StatusOK {
		t.Errorf("Request after completion: expected 200, got %d", rr3.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	req := httptest.NewRequest("GET", "/health", nil)
	rr, response := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if response["status"] != "running" {
		t.Errorf("Expected status 'running', got %v", response["status"])
	}
	if response["port"] != float64(9000) {
		t.Errorf("Expected port 9000, got %v", response["port"])
	}
	if _, err := time.Parse("2006-01-02 15:04:05", response["time"].(string)); err != nil {
		t.Errorf("Unexpected time format %v: %v", response["time"], err)
	}

	targets, ok := response["targets"].([]interface{})
	if !ok || len(targets) != 2 || targets[0] != "client" {
		t.Errorf("Expected targets [client server], got %v", response["targets"])
	}
}

func TestHandleStatus_UnknownTarget(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	rr, _ := serve(server, httptest.NewRequest("GET", "/status/unknown", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestHandleStatus_BeforeAnyDeploy(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	rr, response := serve(server, httptest.NewRequest("GET", "/status/server", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if response["in_flight"] != false {
		t.Errorf("Expected in_flight false, got %v", response["in_flight"])
	}
	if response["last_outcome"] != nil {
		t.Errorf("Expected no last outcome, got %v", response["last_outcome"])
	}
}

func TestHandleStatus_AfterFailedDeploy(t *testing.T) {
	requireShell(t)
	server := setupTestServer(t, "exit 3\n")

	rr, _ := serve(server, githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoDev), testSecret))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	server.WaitForDeployments()

	rr, response := serve(server, httptest.NewRequest("GET", "/status/server", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	last, ok := response["last_outcome"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected last_outcome object, got %v", response["last_outcome"])
	}
	if last["state"] != "failed" {
		t.Errorf("Expected failed state, got %v", last["state"])
	}
	if last["exit_code"] != float64(3) {
		t.Errorf("Expected exit code 3, got %v", last["exit_code"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, "exit 0\n")

	serve(server, githubRequest("/webhook/server", "test.example.com", []byte(githubMergedIntoMain), testSecret))

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `deployhook_webhook_events_total{provider="github",result="ignored",target="server"} 1`) {
		t.Errorf("Expected ignored webhook counter in metrics output:\n%s", rr.Body.String())
	}
}
