package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Stand-in freight marketplace for local runs: issues a bearer token on login
// and serves canned listings behind it.
func main() {
	http.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received login: %s %s", r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": "dummy-upstream-token"})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)

		if r.Header.Get("Authorization") != "Bearer dummy-upstream-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items": [{"id": 1, "origin": "Moscow", "destination": "Kazan", "cargo_type": "general", "weight": 2000}], "path": "%s"}`, r.URL.Path)
	})

	log.Println("Dummy upstream starting on :3001")
	if err := http.ListenAndServe(":3001", nil); err != nil {
		log.Fatal(err)
	}
}
