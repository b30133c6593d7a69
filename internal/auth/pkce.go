// Package auth implements the credential acquisition flows: authorization
// code with PKCE (Google Code-Assist, OpenAI Codex), device code (Qwen,
// GitHub Copilot), and the per-provider token refresh operations. Each flow
// produces a credstore.Record.
package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
)

// pkce holds one authorization-code exchange's proof material.
type pkce struct {
	Verifier  string
	Challenge string
	State     string
}

// newPKCE generates a 32-byte verifier (base64url, unpadded), its S256
// challenge, and a 16-byte random state.
func newPKCE() (pkce, error) {
	verifier := make([]byte, 32)
	if _, err := rand.Read(verifier); err != nil {
		return pkce{}, fmt.Errorf("generate verifier: %w", err)
	}

	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		return pkce{}, fmt.Errorf("generate state: %w", err)
	}

	v := base64.RawURLEncoding.EncodeToString(verifier)
	sum := sha256.Sum256([]byte(v))

	return pkce{
		Verifier:  v,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		State:     base64.RawURLEncoding.EncodeToString(state),
	}, nil
}

// openBrowser launches the system browser; failure is fine, the URL is
// always printed for manual use.
func openBrowser(target string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}

	_ = cmd.Start()
}

// promptAuthorize prints the authorization URL and opens the browser.
func promptAuthorize(authURL string) {
	color.Cyan("Open the following URL to authorize:")
	fmt.Println(authURL)
	openBrowser(authURL)
}

// callbackResult is what the local listener (or manual paste) yields.
type callbackResult struct {
	code  string
	state string
	err   error
}

// listenForCallback runs a one-shot HTTP listener for the OAuth redirect and
// sends the received code and state.
func listenForCallback(addr, path string, results chan<- callbackResult) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if errMsg := q.Get("error"); errMsg != "" {
			results <- callbackResult{err: fmt.Errorf("authorization failed: %s", errMsg)}
			http.Error(w, errMsg, http.StatusBadRequest)

			return
		}

		results <- callbackResult{code: q.Get("code"), state: q.Get("state")}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Login complete. You can close this tab.</body></html>")
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() { _ = srv.Serve(ln) }()

	return srv, nil
}

// readPastedCode accepts a manually pasted authorization response: a raw
// code, "code#state", or the full redirect URL.
func readPastedCode(results chan<- callbackResult) {
	color.Yellow("If the browser cannot reach this machine, paste the code (or full redirect URL) here:")

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if u, err := url.Parse(line); err == nil && u.Scheme != "" {
		q := u.Query()
		results <- callbackResult{code: q.Get("code"), state: q.Get("state")}

		return
	}

	if code, state, found := strings.Cut(line, "#"); found {
		results <- callbackResult{code: code, state: state}
		return
	}

	results <- callbackResult{code: line}
}

// waitForCode waits for either the callback or a pasted code, verifying the
// state when one is supplied.
func waitForCode(ctx context.Context, results <-chan callbackResult, expectState string, deadline time.Duration) (string, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return "", res.err
		}

		if res.code == "" {
			return "", fmt.Errorf("no authorization code received")
		}

		if res.state != "" && res.state != expectState {
			return "", fmt.Errorf("authorization state mismatch")
		}

		return res.code, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for authorization")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
