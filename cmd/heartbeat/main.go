package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type locationPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	driverID := flag.Int64("driver", 1, "driver id to send heartbeats for")
	token := flag.String("token", "", "bearer token (driver identity)")
	startX := flag.Int("x", 10, "starting x coordinate")
	startY := flag.Int("y", 10, "starting y coordinate")
	interval := flag.Duration("interval", 3*time.Second, "heartbeat interval")
	count := flag.Int("count", 20, "number of heartbeats to send")
	stepX := flag.Int("delta-x", 1, "increment x per heartbeat")
	stepY := flag.Int("delta-y", 0, "increment y per heartbeat")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < *count; i++ {
		payload := locationPayload{
			X: *startX + i*(*stepX),
			Y: *startY + i*(*stepY),
		}
		if err := sendHeartbeat(client, *api, *driverID, *token, payload); err != nil {
			log.Printf("heartbeat %d failed: %v", i+1, err)
		} else {
			log.Printf("heartbeat %d sent (%d,%d)", i+1, payload.X, payload.Y)
		}
		time.Sleep(*interval)
	}
}

func sendHeartbeat(client *http.Client, api string, driverID int64, token string, payload locationPayload) error {
	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("%s/api/drivers/%d/location", api, driverID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func init() {
	log.SetOutput(os.Stdout)
}
