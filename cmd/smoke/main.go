package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type identity struct {
	ID    int64  `json:"id"`
	Role  string `json:"role"`
	Token string `json:"token"`
}

func main() {
	api := envOrDefault("API_BASE", "http://localhost:8080")
	wsBase := envOrDefault("WS_BASE", "ws://localhost:8080")

	fmt.Println("Registering identities...")
	passenger, err := registerIdentity(api, "passenger")
	if err != nil {
		log.Fatalf("register passenger failed: %v", err)
	}
	driver, err := registerIdentity(api, "driver")
	if err != nil {
		log.Fatalf("register driver failed: %v", err)
	}

	fmt.Println("Sending driver heartbeat...")
	if err := putJSON(fmt.Sprintf("%s/api/drivers/%d/location", api, driver.ID), driver.Token, map[string]any{"x": 10, "y": 10}); err != nil {
		log.Fatalf("heartbeat failed: %v", err)
	}
	if err := putJSON(fmt.Sprintf("%s/api/drivers/%d/status", api, driver.ID), driver.Token, map[string]any{"status": "online"}); err != nil {
		log.Fatalf("driver status failed: %v", err)
	}

	driverEvents := make(chan map[string]any, 5)
	go subscribeWS(wsBase, driver.Token, driverEvents)

	fmt.Println("Requesting ride...")
	rideID, err := postJSON(api+"/api/rides", passenger.Token, map[string]any{
		"start": map[string]int{"x": 10, "y": 10},
		"end":   map[string]int{"x": 40, "y": 40},
	})
	if err != nil {
		log.Fatalf("request ride failed: %v", err)
	}
	fmt.Printf("Ride ID: %s\n", rideID)

	waitForNotification(driverEvents, "NEW_ORDER_PROPOSAL", 8*time.Second)

	fmt.Println("Accepting ride...")
	if _, err := postJSONNoBody(fmt.Sprintf("%s/api/drivers/%d/rides/%s/accept", api, driver.ID, rideID), driver.Token); err != nil {
		log.Fatalf("accept failed: %v", err)
	}
	waitForNotification(driverEvents, "RIDE_ACCEPTED", 5*time.Second)

	fmt.Println("Smoke test complete.")
}

func registerIdentity(api, role string) (identity, error) {
	body, _ := json.Marshal(map[string]string{"role": role})
	resp, err := http.Post(api+"/api/auth/register", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return identity{}, fmt.Errorf("register status %s", resp.Status)
	}
	var ident identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return identity{}, err
	}
	return ident, nil
}

func postJSON(urlStr, token string, payload map[string]any) (string, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, urlStr, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	id, _ := res["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id missing in response")
	}
	return id, nil
}

func postJSONNoBody(urlStr, token string) (string, error) {
	req, _ := http.NewRequest(http.MethodPost, urlStr, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	return "", nil
}

func putJSON(urlStr, token string, payload map[string]any) error {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPut, urlStr, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func subscribeWS(base, token string, sink chan<- map[string]any) {
	parsed, _ := url.Parse(base + "/ws/notifications")
	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()

	c, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		log.Printf("ws dial failed: %v", err)
		return
	}
	defer c.Close()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		sink <- payload
	}
}

func waitForNotification(events <-chan map[string]any, expectType string, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-events:
			kind, _ := msg["type"].(string)
			fmt.Printf("WS event received: %v\n", msg)
			if kind == expectType {
				return
			}
		case <-deadline:
			log.Fatalf("expected ws event %q not received", expectType)
		}
	}
}
