// mintctl is a small operator CLI for the mintd HTTP API. It signs a
// short-lived bearer token from the shared secret and issues one request.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL = "http://localhost:7090"
	secretEnv      = "MINTD_JWT_SECRET"
)

type client struct {
	baseURL  string
	secret   string
	audience string
	http     *http.Client
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "status":
		err = runGet(args, "/v1/status")
	case "invariants":
		err = runGet(args, "/v1/invariants")
	case "attest":
		err = runAttest(args)
	case "mint":
		err = runMint(args)
	case "redeem":
		err = runRedeem(args)
	case "pause":
		err = runPauseChange(args, "/v1/pause/escalate")
	case "resume":
		err = runPauseChange(args, "/v1/pause/resume")
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: mintctl <command> [flags]

Commands:
  status       print the engine status snapshot
  invariants   run the solvency invariant sweep
  attest       submit a reserve attestation
  mint         mint tokens to a recipient
  redeem       queue a redemption request
  pause        escalate the emergency pause level
  resume       lower the emergency pause level`)
}

func newClient(fs *flag.FlagSet) *client {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}
	fs.StringVar(&c.baseURL, "url", defaultBaseURL, "mintd base URL")
	fs.StringVar(&c.secret, "secret", os.Getenv(secretEnv), "JWT secret ("+secretEnv+")")
	fs.StringVar(&c.audience, "audience", "mintd", "JWT audience claim")
	return c
}

func runGet(args []string, path string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	c := newClient(fs)
	fs.Parse(args)
	return c.do(http.MethodGet, path, nil)
}

func runAttest(args []string) error {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	c := newClient(fs)
	attestor := fs.String("attestor", "", "attestor address")
	backing := fs.String("backing", "", "attested backing amount")
	proofFile := fs.String("proof", "", "path to the reserve proof document")
	fs.Parse(args)

	proof := []byte{}
	if *proofFile != "" {
		data, err := os.ReadFile(*proofFile)
		if err != nil {
			return fmt.Errorf("read proof: %w", err)
		}
		proof = data
	}
	return c.do(http.MethodPost, "/v1/attestations", map[string]string{
		"attestor": *attestor,
		"backing":  *backing,
		"proof":    base64.StdEncoding.EncodeToString(proof),
	})
}

func runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	c := newClient(fs)
	caller := fs.String("caller", "", "authorized minter address")
	recipient := fs.String("recipient", "", "recipient address")
	amount := fs.String("amount", "", "amount to mint")
	fs.Parse(args)
	return c.do(http.MethodPost, "/v1/mint", map[string]string{
		"caller":    *caller,
		"recipient": *recipient,
		"amount":    *amount,
	})
}

func runRedeem(args []string) error {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	c := newClient(fs)
	holder := fs.String("holder", "", "holder address")
	amount := fs.String("amount", "", "amount to redeem")
	fs.Parse(args)
	return c.do(http.MethodPost, "/v1/redemptions", map[string]string{
		"holder": *holder,
		"amount": *amount,
	})
}

func runPauseChange(args []string, path string) error {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	c := newClient(fs)
	caller := fs.String("caller", "", "guardian or governor address")
	level := fs.Int("level", 0, "target pause level")
	reason := fs.String("reason", "", "audit reason")
	fs.Parse(args)
	return c.do(http.MethodPost, path, map[string]interface{}{
		"caller": *caller,
		"level":  *level,
		"reason": *reason,
	})
}

func (c *client) do(method, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(c.secret) != "" {
		token, err := c.signToken()
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(data)))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) signToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "mintctl",
		"aud": c.audience,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	return token.SignedString([]byte(strings.TrimSpace(c.secret)))
}
