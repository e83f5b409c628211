package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr  string `envconfig:"SERVER_ADDR" default:"localhost:8080"`
	DisplayName string `envconfig:"DISPLAY_NAME" default:"anonymous"`
	Token       string `envconfig:"TOKEN"`
}

type frame struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	TargetKind string `json:"target_kind,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Body       string `json:"body,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Delivered int    `json:"delivered,omitempty"`
	Queued    int    `json:"queued,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Interactive terminal client.
// Lines starting with "@id " go to a user, "#id " to a group.
func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	token := cfg.Token
	if token == "" {
		var err error
		token, err = register(cfg)
		if err != nil {
			log.Fatalf("Registration failed: %v", err)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", cfg.ServerAddr), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame{Type: "auth", Token: token}); err != nil {
		log.Fatalf("Auth failed: %v", err)
	}

	go readLoop(conn)

	fmt.Println(color.Green.Render("Connected. @user-id <text> for direct, #group-id <text> for group."))
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		kind := "user"
		switch line[0] {
		case '#':
			kind = "group"
		case '@':
		default:
			fmt.Println(color.Yellow.Render("Prefix the line with @user-id or #group-id"))
			continue
		}

		target, body, ok := strings.Cut(line[1:], " ")
		if !ok {
			fmt.Println(color.Yellow.Render("Nothing to send"))
			continue
		}

		err := conn.WriteJSON(frame{
			Type:       "send",
			TargetKind: kind,
			TargetID:   target,
			Body:       body,
		})
		if err != nil {
			log.Fatalf("Write failed: %v", err)
		}
	}
}

func readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("Connection lost: %v", err)
		}

		switch f.Type {
		case "message":
			fmt.Printf("%s %s\n", color.Cyan.Render(f.SenderID+":"), f.Body)
		case "ack":
			fmt.Println(color.Gray.Render(
				fmt.Sprintf("ack %s delivered=%d queued=%d", f.MessageID, f.Delivered, f.Queued)))
		case "error":
			fmt.Println(color.Red.Render("error: " + f.Error))
		}
	}
}

func register(cfg Config) (string, error) {
	payload, err := json.Marshal(map[string]string{"display_name": cfg.DisplayName})
	if err != nil {
		return "", err
	}

	res, err := http.Post(fmt.Sprintf("http://%s/users", cfg.ServerAddr),
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", err
	}

	fmt.Println(color.Green.Render("Registered as " + body.UserID))
	return body.Token, nil
}
