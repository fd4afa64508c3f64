// Package main implements a standalone end-to-end integration test for the
// lobby server. It validates the full participant journey against a running
// server: health checks, WebSocket handshake, join visibility, chat
// broadcast, typing relay, and leave visibility.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gamesf7/lobby/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// Identities used by the scenarios. High values keep them clear of real
// users when the test runs against a shared environment.
const (
	userA = int64(9_100_001)
	userB = int64(9_100_002)
)

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Lobby E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult

	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2ConnectAuth(ctx, *wsURL))

	// Scenarios 3-6 share two joined clients; run them as a group.
	s3, s4, s5, s6 := scenario3456JoinChatTypingLeave(ctx, *wsURL)
	results = append(results, s3, s4, s5, s6)

	// Optional scenario (non-fatal).
	results = append(results, scenario7OversizeMessage(ctx, *wsURL))

	// -----------------------------------------------------------------------
	// Summary
	// -----------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"

	// 1a. /health
	if err := httpGetExpectOK(ctx, apiBase+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}

	// 1b. /lobby/online: expect JSON with a "users" array.
	body, err := httpGetBody(ctx, apiBase+"/lobby/online")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/lobby/online: %v", err)}
	}
	var onlineResp struct {
		Users []struct {
			UserID   int64  `json:"userId"`
			Username string `json:"username"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &onlineResp); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/lobby/online JSON parse: %v", err)}
	}

	// 1c. /metrics: expect Prometheus text with lobby_open_channels.
	metricsBody, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(metricsBody), "lobby_open_channels") {
		return scenarioResult{name, resultFail, "/metrics: missing lobby_open_channels"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("online=%d", len(onlineResp.Users))}
}

// ---------------------------------------------------------------------------
// Scenario 2: Connect and Auth Handshake
// ---------------------------------------------------------------------------

func scenario2ConnectAuth(ctx context.Context, wsURL string) scenarioResult {
	name := "Scenario 2: Connect and Auth Handshake"

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	c, err := client.New(connCtx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("connect: %v", err)}
	}
	defer c.Close()

	// Capture the roster snapshot delivered after auth.
	roster := make(chan int, 1)
	c.On(client.TypeLobbyInfo, func(raw json.RawMessage) {
		var frame struct {
			Users []struct {
				UserID int64 `json:"userId"`
			} `json:"users"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		for _, u := range frame.Users {
			if u.UserID == userA {
				select {
				case roster <- len(frame.Users):
				default:
				}
				return
			}
		}
		select {
		case roster <- -1:
		default:
		}
	})

	if err := c.Auth(userA, "e2e-alice"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("auth: %v", err)}
	}
	if err := c.WaitForLobby(connCtx); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("lobby_info: %v", err)}
	}

	select {
	case n := <-roster:
		if n < 0 {
			return scenarioResult{name, resultFail, "roster snapshot missing own entry"}
		}
		return scenarioResult{name, resultPass, fmt.Sprintf("roster=%d users", n)}
	case <-connCtx.Done():
		return scenarioResult{name, resultFail, "timeout waiting for roster check"}
	}
}

// ---------------------------------------------------------------------------
// Scenarios 3, 4, 5, 6: Join Visibility, Chat Broadcast, Typing, Leave
// ---------------------------------------------------------------------------

func scenario3456JoinChatTypingLeave(ctx context.Context, wsURL string) (scenarioResult, scenarioResult, scenarioResult, scenarioResult) {
	s3Name := "Scenario 3: Join Visibility"
	s4Name := "Scenario 4: Chat Broadcast"
	s5Name := "Scenario 5: Typing Relay"
	s6Name := "Scenario 6: Leave Visibility"

	failAll := func(reason string) (scenarioResult, scenarioResult, scenarioResult, scenarioResult) {
		return scenarioResult{s3Name, resultFail, reason},
			scenarioResult{s4Name, resultFail, "skipped: join failed"},
			scenarioResult{s5Name, resultFail, "skipped: join failed"},
			scenarioResult{s6Name, resultFail, "skipped: join failed"}
	}

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	clientA, err := client.New(connCtx, wsURL)
	if err != nil {
		return failAll(fmt.Sprintf("client A connect: %v", err))
	}
	defer clientA.Close()

	clientB, err := client.New(connCtx, wsURL)
	if err != nil {
		return failAll(fmt.Sprintf("client B connect: %v", err))
	}
	defer clientB.Close()

	// --- Scenario 3: Join Visibility ---
	joinSeenByA := make(chan int64, 4)
	clientA.On(client.TypeUserJoined, func(raw json.RawMessage) {
		var frame struct {
			UserID int64 `json:"userId"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil {
			select {
			case joinSeenByA <- frame.UserID:
			default:
			}
		}
	})

	if err := clientA.Auth(userA, "e2e-alice"); err != nil {
		return failAll(fmt.Sprintf("client A auth: %v", err))
	}
	if err := clientA.WaitForLobby(connCtx); err != nil {
		return failAll(fmt.Sprintf("client A lobby_info: %v", err))
	}

	joinStart := time.Now()
	if err := clientB.Auth(userB, "e2e-bob"); err != nil {
		return failAll(fmt.Sprintf("client B auth: %v", err))
	}
	if err := clientB.WaitForLobby(connCtx); err != nil {
		return failAll(fmt.Sprintf("client B lobby_info: %v", err))
	}

	// Client A must observe B's join.
	joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
	defer joinCancel()
joinLoop:
	for {
		select {
		case id := <-joinSeenByA:
			if id == userB {
				break joinLoop
			}
		case <-joinCtx.Done():
			return failAll("timeout: client A did not observe client B's join")
		}
	}
	s3Result := scenarioResult{s3Name, resultPass,
		fmt.Sprintf("join visible in %s", time.Since(joinStart).Round(time.Millisecond))}

	// --- Scenario 4: Chat Broadcast ---
	chatSeenByA := make(chan string, 1) // own echo
	chatSeenByB := make(chan string, 1)

	onChat := func(sink chan string) func(json.RawMessage) {
		return func(raw json.RawMessage) {
			var frame struct {
				UserID  int64  `json:"userId"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &frame); err == nil && frame.UserID == userA {
				select {
				case sink <- frame.Message:
				default:
				}
			}
		}
	}
	clientA.On(client.TypeChat, onChat(chatSeenByA))
	clientB.On(client.TypeChat, onChat(chatSeenByB))

	chatCtx, chatCancel := context.WithTimeout(ctx, 10*time.Second)
	defer chatCancel()

	text := "Hello lobby from A"
	if err := clientA.SendChat(text); err != nil {
		return s3Result,
			scenarioResult{s4Name, resultFail, fmt.Sprintf("send chat: %v", err)},
			scenarioResult{s5Name, resultFail, "skipped: chat failed"},
			scenarioResult{s6Name, resultFail, "skipped: chat failed"}
	}

	// Both participants receive the broadcast, including the sender.
	for _, sink := range []chan string{chatSeenByB, chatSeenByA} {
		select {
		case got := <-sink:
			if got != text {
				return s3Result,
					scenarioResult{s4Name, resultFail, fmt.Sprintf("content mismatch: expected %q, got %q", text, got)},
					scenarioResult{s5Name, resultFail, "skipped: chat failed"},
					scenarioResult{s6Name, resultFail, "skipped: chat failed"}
			}
		case <-chatCtx.Done():
			return s3Result,
				scenarioResult{s4Name, resultFail, "timeout: chat broadcast not delivered"},
				scenarioResult{s5Name, resultFail, "skipped: chat failed"},
				scenarioResult{s6Name, resultFail, "skipped: chat failed"}
		}
	}
	s4Result := scenarioResult{s4Name, resultPass, "broadcast reached both participants"}

	// --- Scenario 5: Typing Relay ---
	typingSeenByB := make(chan string, 1)
	clientB.On(client.TypeTyping, func(raw json.RawMessage) {
		var frame struct {
			UserID   int64  `json:"userId"`
			IsTyping bool   `json:"isTyping"`
			Preview  string `json:"preview"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil && frame.UserID == userA && frame.IsTyping {
			select {
			case typingSeenByB <- frame.Preview:
			default:
			}
		}
	})

	if err := clientA.SendTyping(true, "Hel"); err != nil {
		return s3Result, s4Result,
			scenarioResult{s5Name, resultFail, fmt.Sprintf("send typing: %v", err)},
			scenarioResult{s6Name, resultFail, "skipped: typing failed"}
	}

	typingCtx, typingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer typingCancel()
	select {
	case preview := <-typingSeenByB:
		if preview != "Hel" {
			return s3Result, s4Result,
				scenarioResult{s5Name, resultFail, fmt.Sprintf("preview mismatch: got %q", preview)},
				scenarioResult{s6Name, resultFail, "skipped: typing failed"}
		}
	case <-typingCtx.Done():
		return s3Result, s4Result,
			scenarioResult{s5Name, resultFail, "timeout: typing indicator not relayed"},
			scenarioResult{s6Name, resultFail, "skipped: typing failed"}
	}
	s5Result := scenarioResult{s5Name, resultPass, "preview relayed unmodified"}

	// --- Scenario 6: Leave Visibility ---
	leftSeenByB := make(chan struct{}, 1)
	clientB.On(client.TypeUserLeft, func(raw json.RawMessage) {
		var frame struct {
			UserID int64 `json:"userId"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil && frame.UserID == userA {
			select {
			case leftSeenByB <- struct{}{}:
			default:
			}
		}
	})

	clientA.Close()

	leaveCtx, leaveCancel := context.WithTimeout(ctx, 10*time.Second)
	defer leaveCancel()
	select {
	case <-leftSeenByB:
	case <-leaveCtx.Done():
		return s3Result, s4Result, s5Result,
			scenarioResult{s6Name, resultFail, "timeout: client B did not observe client A's leave"}
	}

	clientB.Close()
	return s3Result, s4Result, s5Result, scenarioResult{s6Name, resultPass, "leave broadcast delivered"}
}

// ---------------------------------------------------------------------------
// Scenario 7: Oversize Message (optional, non-fatal)
// ---------------------------------------------------------------------------

func scenario7OversizeMessage(ctx context.Context, wsURL string) scenarioResult {
	name := "Scenario 7: Oversize Message"

	scenarioCtx, scenarioCancel := context.WithTimeout(ctx, 30*time.Second)
	defer scenarioCancel()

	connCtx, connCancel := context.WithTimeout(scenarioCtx, 10*time.Second)
	defer connCancel()

	c, err := client.New(connCtx, wsURL)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("setup failed: %v", err)}
	}
	defer c.Close()

	echo := make(chan struct{}, 1)
	c.On(client.TypeChat, func(raw json.RawMessage) {
		var frame struct {
			UserID int64 `json:"userId"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil && frame.UserID == userA {
			select {
			case echo <- struct{}{}:
			default:
			}
		}
	})

	if err := c.Auth(userA, "e2e-alice"); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("auth: %v", err)}
	}
	if err := c.WaitForLobby(connCtx); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("lobby_info: %v", err)}
	}

	// The server drops messages over its byte limit without a reply. We
	// expect silence: no echo within the wait window.
	if err := c.SendChat(strings.Repeat("x", 5000)); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("send failed: %v", err)}
	}

	waitCtx, waitCancel := context.WithTimeout(scenarioCtx, 3*time.Second)
	defer waitCancel()
	select {
	case <-echo:
		return scenarioResult{name, resultInfo, "oversize message was broadcast (limit may be raised)"}
	case <-waitCtx.Done():
		return scenarioResult{name, resultInfo, "oversize message silently dropped"}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// httpGetExpectOK performs an HTTP GET and checks for a 200 status code.
func httpGetExpectOK(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// httpGetBody performs an HTTP GET and returns the response body.
func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
