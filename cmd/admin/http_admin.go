package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"monsterarena.ai/internal/observerproto"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/bootstrap"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func requestSnapshot(baseURL string) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/snapshot"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func spawnCmd(args []string) {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	x := fs.Int64("x", 0, "monster x")
	y := fs.Int64("y", 0, "monster y")
	_ = fs.Parse(args)

	body, _ := json.Marshal(observerproto.SpawnRequest{X: *x, Y: *y})
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/monsters"
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
