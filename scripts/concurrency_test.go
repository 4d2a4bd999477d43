//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the borrow endpoint.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <token1> [token2 ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<uuid>  TOKENS=<t1>,<t2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Reads the book's available copy count.
//  2. Fires N goroutines (one per member token) all borrowing the same book simultaneously.
//  3. Prints how many borrows succeeded vs. were turned away with no_copies_available.
//  4. Re-reads the book and checks that the copy count dropped by exactly the number of borrows.
//
// Prerequisites:
//   - Server must be running ("lms serve --migrate").
//   - A book and N student accounts must exist; obtain tokens via POST /auth/login.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	Member     int
	StatusCode int
	Code       string
	Err        error
}

type book struct {
	Title           string `json:"title"`
	AvailableCopies int    `json:"available_copies"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	var tokens []string
	if env := os.Getenv("TOKENS"); env != "" {
		tokens = strings.Split(env, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		tokens = args[1:]
	}

	if bookID == "" {
		log.Fatal("Usage: BOOK_ID=<uuid> TOKENS=<t1,t2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <token1> [token2 ...]")
	}
	if len(tokens) == 0 {
		log.Fatal("At least one bearer token must be provided via TOKENS env or positional args")
	}

	before, err := getBook(serverAddr, bookID, tokens[0])
	if err != nil {
		log.Fatalf("read book: %v", err)
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server    : %s\n", serverAddr)
	fmt.Printf("Book      : %s (%s)\n", bookID, before.Title)
	fmt.Printf("Available : %d\n", before.AvailableCopies)
	fmt.Printf("Members   : %d\n\n", len(tokens))

	results := make([]borrowResult, len(tokens))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, token := range tokens {
		wg.Add(1)
		go func(idx int, token string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, strings.TrimSpace(token))
			results[idx].Member = idx + 1
		}(i, token)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var borrowed, turnedAway, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] member=%-3d err=%v\n", r.Member, r.Err)
		case r.StatusCode == http.StatusCreated:
			borrowed++
			fmt.Printf("  [BORR] member=%-3d status=%d\n", r.Member, r.StatusCode)
		case r.Code == "no_copies_available":
			turnedAway++
			fmt.Printf("  [NONE] member=%-3d status=%d code=%s\n", r.Member, r.StatusCode, r.Code)
		default:
			failures++
			fmt.Printf("  [FAIL] member=%-3d status=%d code=%s\n", r.Member, r.StatusCode, r.Code)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Borrowed   : %d\n", borrowed)
	fmt.Printf("Turned away: %d\n", turnedAway)
	fmt.Printf("Failures   : %d\n", failures)
	fmt.Printf("Total      : %d\n\n", len(tokens))

	after, err := getBook(serverAddr, bookID, tokens[0])
	if err != nil {
		log.Fatalf("re-read book: %v", err)
	}

	fmt.Println("--- Invariant Check ---")
	ok := true
	if borrowed > before.AvailableCopies {
		fmt.Printf("[FAIL] %d borrows succeeded but only %d copies were available\n", borrowed, before.AvailableCopies)
		ok = false
	}
	if after.AvailableCopies != before.AvailableCopies-borrowed {
		fmt.Printf("[FAIL] available copies went %d -> %d after %d borrows\n", before.AvailableCopies, after.AvailableCopies, borrowed)
		ok = false
	}
	if after.AvailableCopies < 0 {
		fmt.Printf("[FAIL] available copies is negative: %d\n", after.AvailableCopies)
		ok = false
	}
	if ok {
		fmt.Printf("[ OK ] available copies %d -> %d\n", before.AvailableCopies, after.AvailableCopies)
	}

	if !ok || failures > 0 {
		os.Exit(1)
	}
}

func getBook(serverAddr, bookID, token string) (book, error) {
	var b book
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/books/%s", serverAddr, bookID), nil)
	if err != nil {
		return b, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return b, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return b, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}
	return b, json.NewDecoder(resp.Body).Decode(&b)
}

// attemptBorrow sends POST /books/{bookID}/borrow as the token's owner and
// parses the error code on failure.
func attemptBorrow(serverAddr, bookID, token string) borrowResult {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/books/%s/borrow", serverAddr, bookID), nil)
	if err != nil {
		return borrowResult{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}
	return borrowResult{StatusCode: resp.StatusCode, Code: parsed.Code}
}
