// Command smoke drives check, sync, feedback and regenerate against a running server.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	owner := flag.String("owner", "smoke-"+fmt.Sprint(time.Now().Unix()), "owner id sent in X-Owner-ID")
	identifier := flag.String("id", "", "primary product identifier")
	key := flag.String("key", os.Getenv("PRODUCT_DATA_KEY"), "product data key override")
	flag.Parse()

	if *identifier == "" {
		fmt.Println("usage: smoke -id <identifier> [-url ...] [-owner ...] [-key ...]")
		os.Exit(2)
	}

	c := &client{baseURL: *baseURL, owner: *owner, key: *key, http: &http.Client{Timeout: 16 * time.Minute}}

	fmt.Println("1. Checking stored correlations...")
	if _, ok := c.send(http.MethodGet, "/api/correlations/"+*identifier+"?action=check", nil); !ok {
		fail("check")
	}

	fmt.Println("2. Running discovery...")
	body, ok := c.send(http.MethodGet, "/api/correlations/"+*identifier+"?action=sync", nil)
	if !ok {
		fail("sync")
	}
	var synced struct {
		Correlations []struct {
			CandidateID string `json:"candidate_id"`
		} `json:"correlations"`
	}
	if err := json.Unmarshal(body, &synced); err != nil {
		fail("decode sync response: " + err.Error())
	}

	if len(synced.Correlations) > 0 {
		candidate := synced.Correlations[0].CandidateID
		fmt.Printf("3. Accepting %s...\n", candidate)
		decide := map[string]string{"candidate_id": candidate, "action": "decide", "decision": "accepted"}
		if _, ok := c.send(http.MethodPost, "/api/feedback/"+*identifier, decide); !ok {
			fail("decide")
		}

		fmt.Println("4. Undoing decision...")
		undo := map[string]string{"candidate_id": candidate, "action": "undo"}
		if _, ok := c.send(http.MethodPost, "/api/feedback/"+*identifier, undo); !ok {
			fail("undo")
		}
	} else {
		fmt.Println("3. No correlations found, skipping feedback")
	}

	fmt.Println("5. Regenerating criteria...")
	if _, ok := c.send(http.MethodPost, "/api/prompt/regenerate", nil); !ok {
		fail("regenerate")
	}

	fmt.Println("PASSED")
}

type client struct {
	baseURL string
	owner   string
	key     string
	http    *http.Client
}

func (c *client) send(method, endpoint string, payload interface{}) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", c.owner)
	if c.key != "" {
		req.Header.Set("X-Product-Data-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}

	fmt.Printf("Response: %s\n", string(respBody))
	return respBody, true
}

func fail(step string) {
	fmt.Printf("FAILED: %s\n", step)
	os.Exit(1)
}
