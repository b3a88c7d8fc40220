// pattern: Imperative Shell

package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const healthTimeout = 2 * time.Second

// ServiceName identifies a karkinos server in its health response.
const ServiceName = "karkinos"

// ErrNoInstance means no server holds the lock for the repository.
var ErrNoInstance = errors.New("no running karkinos server")

// Health is the body of GET /api/health.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Root    string `json:"root"`
}

// Discover returns the base URL of the server holding the repository whose
// git common dir is dir, e.g. "http://127.0.0.1:12345". It returns
// ErrNoInstance when the lock is free; a held lock with an unreadable port
// file or a failing health probe is an error that names cleanup-lock.
func Discover(dir string) (string, error) {
	held, err := lockHeld(dir)
	if err != nil {
		return "", err
	}
	if !held {
		return "", ErrNoInstance
	}

	addr, err := readPort(dir)
	if err != nil {
		return "", err
	}
	baseURL := "http://" + addr
	if _, err := probe(baseURL); err != nil {
		return "", err
	}
	return baseURL, nil
}

func readPort(dir string) (string, error) {
	data, err := os.ReadFile(portPath(dir))
	if err != nil {
		return "", fmt.Errorf("karkinos server detected but port file missing (try 'karkinos cleanup-lock'): %w", err)
	}
	addr := strings.TrimSpace(string(data))
	if addr == "" {
		return "", errors.New("karkinos port file is empty (try 'karkinos cleanup-lock')")
	}
	return addr, nil
}

// probe checks that baseURL answers as a karkinos server.
func probe(baseURL string) (Health, error) {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return Health{}, fmt.Errorf("karkinos server not responding (try 'karkinos cleanup-lock'): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("karkinos health check failed (status %d)", resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || h.Service != ServiceName {
		return Health{}, fmt.Errorf("%s is not a karkinos server (try 'karkinos cleanup-lock')", baseURL)
	}
	return h, nil
}
