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

type coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type rideRequest struct {
	Start coordinate `json:"start"`
	End   coordinate `json:"end"`
}

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	passengerToken := flag.String("passenger-token", "", "passenger bearer token")
	driverToken := flag.String("driver-token", "", "driver bearer token")
	driverID := flag.Int64("driver-id", 1, "driver id expected to receive the proposal")
	startX, startY := flag.Int("start-x", 10, "pickup x"), flag.Int("start-y", 10, "pickup y")
	endX, endY := flag.Int("end-x", 40, "dropoff x"), flag.Int("end-y", 40, "dropoff y")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	rideID, err := requestRide(client, *api, *passengerToken, rideRequest{
		Start: coordinate{X: *startX, Y: *startY},
		End:   coordinate{X: *endX, Y: *endY},
	})
	if err != nil {
		log.Fatalf("ride request failed: %v", err)
	}
	log.Printf("ride requested: %s", rideID)

	// Give the matching worker a moment to run the spiral search and
	// publish the proposal before the driver attempts to accept it.
	time.Sleep(2 * time.Second)

	if err := acceptRide(client, *api, *driverToken, *driverID, rideID); err != nil {
		log.Fatalf("accept failed: %v", err)
	}
	log.Printf("ride %s accepted by driver %d", rideID, *driverID)
}

func requestRide(client *http.Client, api, token string, payload rideRequest) (string, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/rides", api), bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("request ride status: %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	if id, ok := res["id"].(string); ok {
		return id, nil
	}
	return "", fmt.Errorf("ride id missing in response")
}

func acceptRide(client *http.Client, api, token string, driverID int64, rideID string) error {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/drivers/%d/rides/%s/accept", api, driverID, rideID), nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("accept status: %s", resp.Status)
	}
	return nil
}

func init() {
	log.SetOutput(os.Stdout)
}
