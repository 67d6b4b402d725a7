package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type verifyResponse struct {
	OK      bool   `json:"ok"`
	OrderID int64  `json:"orderId"`
	Error   string `json:"error"`
}

type attempt struct {
	Number   int
	Status   int
	Body     verifyResponse
	Err      error
	Duration time.Duration
}

// confirm_poll replays what the payment success page does: it polls the verify endpoint
// a few times and reports whether the order was confirmed.
func main() {
	var (
		baseURL   string
		sessionID string
		attempts  int
		interval  time.Duration
		timeout   time.Duration
	)

	flag.StringVar(&baseURL, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&sessionID, "session", "", "checkout session id returned by the provider")
	flag.IntVar(&attempts, "attempts", 4, "number of verify calls")
	flag.DurationVar(&interval, "interval", 900*time.Millisecond, "delay between calls")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if strings.TrimSpace(sessionID) == "" {
		log.Fatal("-session is required")
	}

	client := &http.Client{Timeout: timeout}
	target := strings.TrimRight(baseURL, "/") + "/api/payment/verify?session_id=" + url.QueryEscape(sessionID)

	var results []attempt
	confirmed := false
	for i := 1; i <= attempts && !confirmed; i++ {
		res := verify(client, target, i)
		results = append(results, res)
		confirmed = res.Err == nil && res.Body.OK
		if !confirmed && i < attempts {
			time.Sleep(interval)
		}
	}

	printReport(results)
	if !confirmed {
		os.Exit(1)
	}
}

func verify(client *http.Client, target string, n int) attempt {
	start := time.Now()
	resp, err := client.Get(target)
	if err != nil {
		return attempt{Number: n, Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	res := attempt{Number: n, Status: resp.StatusCode, Duration: time.Since(start)}
	if err := json.NewDecoder(resp.Body).Decode(&res.Body); err != nil {
		res.Err = fmt.Errorf("decode response: %w", err)
	}
	return res
}

func printReport(results []attempt) {
	fmt.Println("Confirm poll report")
	fmt.Println("===================")
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("#%d ERROR status=%d err=%v (%s)\n", r.Number, r.Status, r.Err, r.Duration)
		case r.Body.OK:
			fmt.Printf("#%d PAID order=%d (%s)\n", r.Number, r.Body.OrderID, r.Duration)
		default:
			fmt.Printf("#%d WAIT status=%d error=%s (%s)\n", r.Number, r.Status, r.Body.Error, r.Duration)
		}
	}
}
