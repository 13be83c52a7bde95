//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".."   // relative to ./e2e
const mainPkgRel = "./cmd" // main.go lives in cmd/

const mqttPort = nat.Port("1883/tcp")

// TestSmoke_GatewayStarts runs the gateway binary against a real broker. CI
// hosts have no Bluetooth adapter, so the scanner is expected to report
// itself unavailable while the rest of the gateway keeps serving.
func TestSmoke_GatewayStarts(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startMosquitto(t)

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "readings.db"),
		"MQTT_ENABLED=true",
		"MQTT_BROKER="+host,
		"MQTT_PORT="+port,
		"MQTT_CLIENT_ID=govee-gateway-e2e",
		"MQTT_TOPIC_PREFIX=e2e",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	health := waitForHealth(t, client, "http://"+addr+"/healthz", 10*time.Second)
	if health["database"] != "ok" {
		t.Fatalf("healthz database=%q want ok", health["database"])
	}
	if !knownPhase(health["scanner"]) {
		t.Fatalf("healthz scanner=%q", health["scanner"])
	}

	status := waitForRetainedStatus(t, host, port, "e2e/scanner/status", 15*time.Second)
	if phase, _ := status["phase"].(string); !knownPhase(phase) {
		t.Fatalf("retained status phase=%v", status["phase"])
	}

	resp, err := client.Get("http://" + addr + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET /api/v1/devices: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("devices status=%d want=%d", resp.StatusCode, http.StatusOK)
	}

	stopGateway(t, cmd)
}

func knownPhase(p string) bool {
	switch p {
	case "idle", "scanning", "stopping", "unavailable":
		return true
	}
	return false
}

func startMosquitto(t *testing.T) (host, port string) {
	t.Helper()
	ctx := context.Background()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			// 1.6 accepts anonymous clients on 1883 without a config file.
			Image:        "eclipse-mosquitto:1.6",
			ExposedPorts: []string{string(mqttPort)},
			WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err = c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Port()
}

func waitForRetainedStatus(t *testing.T, host, port, topic string, timeout time.Duration) map[string]any {
	t.Helper()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", host, port)).
		SetClientID("govee-e2e-subscriber")
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	defer c.Disconnect(250)

	msgs := make(chan []byte, 8)
	tok := c.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		msgs <- m.Payload()
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}

	deadline := time.After(timeout)
	for {
		select {
		case b := <-msgs:
			var v map[string]any
			if err := json.Unmarshal(b, &v); err != nil {
				t.Fatalf("decode status %q: %v", b, err)
			}
			if v["phase"] == "offline" {
				continue
			}
			return v
		case <-deadline:
			t.Fatalf("no scanner status on %s after %s", topic, timeout)
		}
	}
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "govee-gateway")

	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}

	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

// waitForHealth polls until /healthz answers with a JSON body. A missing
// radio yields 503, which still proves the gateway is up.
func waitForHealth(t *testing.T, client *http.Client, url string, timeout time.Duration) map[string]string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			var body map[string]string
			decodeErr := json.NewDecoder(resp.Body).Decode(&body)
			_ = resp.Body.Close()
			if decodeErr == nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable) {
				return body
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("gateway not answering after %s: %s", timeout, url)
	return nil
}

func stopGateway(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("gateway did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("gateway exited non-zero: %v", err)
			}
			t.Fatalf("gateway wait error: %v", err)
		}
	}
}
