package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// stubsvc is a stand-in backend for devstack runs: a health endpoint with
// injectable latency and failure rate, a websocket echo, and a catch-all
// that names itself.
func main() {
	var (
		port     = flag.Int("port", 0, "listen port (PORT env wins)")
		name     = flag.String("name", "stub", "service name reported in responses")
		latency  = flag.Duration("latency", 0, "added delay on every response")
		failRate = flag.Float64("fail-rate", 0, "fraction of /health calls that return 500")
	)
	flag.Parse()

	if env := os.Getenv("PORT"); env != "" {
		p, err := strconv.Atoi(env)
		if err != nil {
			log.Fatalf("Bad PORT %q: %v", env, err)
		}
		*port = p
	}
	if *port == 0 {
		log.Fatal("No port: set -port or the PORT env var")
	}

	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*latency)
		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": "ok", "service": %q}`, *name)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*latency)
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service": %q, "port": %d, "path": %q}`, *name, *port, r.URL.Path)
	})

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	log.Printf("%s listening on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
