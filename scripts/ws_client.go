// Package main submits a problem to a running API and follows the run's
// progress over its WebSocket until the run finishes.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := flag.String("base", "http://localhost:"+port, "API base URL")
	problemPath := flag.String("problem", "", "problem JSON file")
	tdmPath := flag.String("tdm", "", "matrix CSV (from,to,time,distance)")
	dataset := flag.String("dataset", "", "stored matrix dataset instead of -tdm")
	token := flag.String("token", "dev:dispatcher", "bearer token")
	flag.Parse()

	var req model.OptimizeRequest
	raw, err := os.ReadFile(*problemPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := json.Unmarshal(raw, &req.Problem); err != nil {
		log.Fatal(err)
	}
	req.Dataset = *dataset
	if *tdmPath != "" {
		f, err := os.Open(*tdmPath)
		if err != nil {
			log.Fatal(err)
		}
		recs, err := matrix.ReadCSV(f)
		_ = f.Close()
		if err != nil {
			log.Fatal(err)
		}
		req.Matrix = model.FromRecords(recs)
	}
	body, _ := json.Marshal(req)

	hr, _ := http.NewRequest(http.MethodPost, *base+"/v1/optimize", bytes.NewReader(body))
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Authorization", "Bearer "+*token)
	resp, err := http.DefaultClient.Do(hr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var accepted struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil || accepted.RunID == "" {
		log.Fatalf("optimize: status %d: %v", resp.StatusCode, err)
	}
	fmt.Printf("run %s accepted\n", accepted.RunID)

	u, _ := url.Parse(*base)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/v1/runs/" + accepted.RunID + "/ws"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+*token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	for {
		var evt model.RunEvent
		if err := conn.ReadJSON(&evt); err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		switch evt.Type {
		case "progress":
			fmt.Printf("iteration=%d best=%.2f unassigned=%d elapsed=%dms\n",
				evt.Progress.Iteration, evt.Progress.BestCost, evt.Progress.Unassigned, evt.Progress.ElapsedMs)
		default:
			fmt.Printf("run %s %s\n", evt.RunID, evt.Status)
			return
		}
	}
}
