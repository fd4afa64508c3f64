package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gamesf7/lobby/loadtest/client"
	"github.com/gamesf7/lobby/loadtest/stats"
)

// runChat implements the chat broadcast load test. Every simulated
// participant joins the shared lobby and sends chat frames at a fixed
// interval while counting the broadcasts it receives. Because the server
// echoes each chat back to its sender, the test measures self-echo latency
// as a proxy for end-to-end broadcast latency.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 200, "Number of lobby participants")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long participants chat")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between chat frames per participant")
	msgSize := fs.Int("msg-size", 128, "Size of each chat payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d participants to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d, concurrency=%d)\n",
		*users, *url, *rampUp, *chatDuration, *msgInterval, *msgSize, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer scraper.Stop()

	// Total broadcast frames received across all participants.
	var framesReceived atomic.Int64

	// -----------------------------------------------------------------------
	// Ramp-up phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*users)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *users)

	rampTicker := time.NewTicker(interval)
	launched := 0
rampLoop:
	for launched < *users {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break rampLoop
		case <-rampTicker.C:
			launched++
			userID := userIDBase + int64(launched)
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, *url)
				if err != nil {
					collector.AddError()
					return
				}

				// Record every chat broadcast; when the frame is our own
				// echo, measure the send-to-echo latency using the send
				// timestamp embedded in the payload.
				c.On(client.TypeChat, func(raw json.RawMessage) {
					framesReceived.Add(1)

					var frame struct {
						UserID  int64  `json:"userId"`
						Message string `json:"message"`
					}
					if err := json.Unmarshal(raw, &frame); err != nil {
						return
					}
					if frame.UserID != c.UserID() {
						return
					}
					if sentAt, ok := extractSentAt(frame.Message); ok {
						collector.AddEcho(time.Since(sentAt))
					}
				})

				if err := c.Auth(userID, fmt.Sprintf("loadtest-%d", userID)); err != nil {
					collector.AddError()
					c.Close()
					return
				}
				if err := c.WaitForLobby(connCtx); err != nil {
					collector.AddError()
					c.Close()
					return
				}

				m := c.GetMetrics()
				collector.AddConnect(m.ConnectLatency)
				collector.AddJoin(m.JoinLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d participants joined (%d errors)\n",
		collector.ConnectionCount(), *users, collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Chat phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Chat phase ---")

	chatCtx, chatCancel := context.WithTimeout(ctx, *chatDuration)
	defer chatCancel()

	var sent atomic.Int64
	var chatWg sync.WaitGroup

	mu.Lock()
	active := make([]*client.Client, len(clients))
	copy(active, clients)
	mu.Unlock()

	for _, c := range active {
		chatWg.Add(1)
		go func(c *client.Client) {
			defer chatWg.Done()
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-ticker.C:
					if err := c.SendChat(buildPayload(*msgSize)); err != nil {
						collector.AddError()
						return
					}
					sent.Add(1)
				}
			}
		}(c)
	}

	// Progress reporting while the chat phase runs.
	statusTicker := time.NewTicker(5 * time.Second)
statusLoop:
	for {
		select {
		case <-chatCtx.Done():
			break statusLoop
		case <-statusTicker.C:
			fmt.Printf("  [chat] sent: %d  received: %d\n",
				sent.Load(), framesReceived.Load())
		}
	}
	statusTicker.Stop()
	chatWg.Wait()

	fmt.Printf("\nChat phase complete: %d frames sent, %d broadcasts received\n",
		sent.Load(), framesReceived.Load())

	// Each frame fans out to every participant, so the expected receive
	// count is sent * participants.
	if n := int64(len(active)); n > 0 && sent.Load() > 0 {
		expected := sent.Load() * n
		ratio := float64(framesReceived.Load()) / float64(expected) * 100
		fmt.Printf("Delivery: %d/%d expected broadcasts (%.1f%%)\n",
			framesReceived.Load(), expected, ratio)
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	collector.Report()
}

// buildPayload creates a chat message of roughly size bytes that carries the
// send time so the echo handler can compute latency without shared state.
func buildPayload(size int) string {
	header := fmt.Sprintf("t=%d;", time.Now().UnixNano())
	if pad := size - len(header); pad > 0 {
		return header + strings.Repeat("x", pad)
	}
	return header
}

// extractSentAt recovers the send timestamp embedded by buildPayload.
func extractSentAt(message string) (time.Time, bool) {
	if !strings.HasPrefix(message, "t=") {
		return time.Time{}, false
	}
	end := strings.IndexByte(message, ';')
	if end < 0 {
		return time.Time{}, false
	}
	var nanos int64
	if _, err := fmt.Sscanf(message[2:end], "%d", &nanos); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
