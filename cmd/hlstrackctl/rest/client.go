// Package restapi is the hlstrackctl HTTP client for a running
// hlstrackerd's introspection surface, grounded on the teacher's own
// cli/cmd/rest client.
package restapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a13labs/hlstracker/pkg/auth"
)

// APIConfig holds the connection details for one hlstrackctl invocation.
type APIConfig struct {
	Host       string
	AuthSecret string
}

// Config is the process-wide client configuration, bound to persistent
// flags on the root command.
var Config APIConfig

// Call issues an HTTP request against Config.Host+endpoint, attaching a
// freshly-signed bearer token when AuthSecret is configured, matching the
// same shared secret hlstrackerd uses to guard its introspection surface.
func Call(method, endpoint string, body []byte) ([]byte, error) {
	url := Config.Host + endpoint

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if Config.AuthSecret != "" {
		signer := auth.NewSigner(Config.AuthSecret, "hlstrackctl", time.Minute)
		header, err := signer.SignedAuthorizationHeader()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", header)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("hlstrackerd returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
