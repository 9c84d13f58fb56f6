// syncbox-enqueue posts one mutation envelope to a running sync agent.
// Intended for scripts and manual testing; the payload comes from a file
// or stdin.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", envOrDefault("SYNCBOX_ADDR", "http://127.0.0.1:8787"), "sync agent base URL")
	token := flag.String("token", envOrDefault("SYNCBOX_AUTH_TOKEN", "dev-token"), "bearer token")
	kind := flag.String("kind", "", "mutation kind, e.g. lead.update")
	endpoint := flag.String("endpoint", "", "CRM endpoint path, e.g. /api/v1/leads/42")
	method := flag.String("method", "POST", "HTTP method")
	version := flag.String("version", "", "last known entity version (optional)")
	payloadPath := flag.String("payload", "-", "payload JSON file, or - for stdin")
	basePath := flag.String("base", "", "pre-edit snapshot JSON file (optional)")
	flag.Parse()

	if strings.TrimSpace(*kind) == "" || strings.TrimSpace(*endpoint) == "" {
		log.Fatalf("kind and endpoint are required")
	}

	payload, err := readInput(*payloadPath)
	if err != nil {
		log.Fatalf("failed to read payload: %v", err)
	}

	envelope := map[string]any{
		"kind":     strings.TrimSpace(*kind),
		"endpoint": strings.TrimSpace(*endpoint),
		"method":   strings.ToUpper(strings.TrimSpace(*method)),
	}
	if len(payload) > 0 {
		envelope["payload"] = json.RawMessage(payload)
	}
	if strings.TrimSpace(*version) != "" {
		envelope["version"] = strings.TrimSpace(*version)
	}
	if strings.TrimSpace(*basePath) != "" {
		base, err := os.ReadFile(*basePath)
		if err != nil {
			log.Fatalf("failed to read base snapshot: %v", err)
		}
		envelope["lastKnownGood"] = json.RawMessage(base)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		log.Fatalf("failed to encode envelope: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*addr, "/")+"/v1/queue", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+*token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("enqueue request failed: %v", err)
	}
	defer resp.Body.Close()
	responseBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("enqueue rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var item struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(responseBody, &item); err != nil {
		log.Fatalf("unexpected response: %v", err)
	}
	fmt.Printf("queued %s\n", item.ID)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
