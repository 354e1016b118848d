// Package main implements the entry point for the commission API
// server: task admission, orchestration and real-time progress relay.
package main

import (
	"log"
)

// main is the entry point for the API/orchestrator replica. It loads
// configuration, sets up logging, connects the database and Redis,
// runs migrations, and starts the task manager, the progress relay and
// the HTTP server.
func main() {
	app, err := newApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
