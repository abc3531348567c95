// Command rootedcli is a terminal chat client that demonstrates the
// optimistic display flow: it shows an advisory tree estimate the moment a
// prompt is sent, then reconciles to the server's authoritative figure when
// the response lands (or rolls the estimate back on failure).
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/models"
	"github.com/rootedhq/rooted/backend/internal/reconcile"
)

type client struct {
	baseURL string
	userID  string
	email   string
	http    *http.Client
}

type chatRequest struct {
	SessionID string               `json:"session_id,omitempty"`
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
}

type chatResponse struct {
	ResponseText   string          `json:"response_text"`
	SessionID      uuid.UUID       `json:"session_id"`
	TreesAdded     decimal.Decimal `json:"trees_added"`
	UserTotalTrees decimal.Decimal `json:"user_total_trees"`
	Milestones     []int           `json:"milestones"`
}

type estimateRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

type estimateResponse struct {
	EstimatedTrees *decimal.Decimal `json:"estimated_trees"`
}

type profileResponse struct {
	TotalTrees decimal.Decimal `json:"total_trees"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "backend base URL")
	userID := flag.String("user", "", "user id (uuid)")
	email := flag.String("email", "", "user email")
	model := flag.String("model", "gpt-4o-mini", "model alias")
	flag.Parse()

	if *userID == "" || *email == "" {
		log.Fatal("both -user and -email are required")
	}
	if _, err := uuid.Parse(*userID); err != nil {
		log.Fatalf("invalid -user: %v", err)
	}

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		userID:  *userID,
		email:   *email,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}

	profile, err := c.fetchProfile()
	if err != nil {
		log.Fatalf("fetch profile: %v", err)
	}
	tracker := reconcile.NewTracker(profile.TotalTrees)
	fmt.Printf("trees planted so far: %s\n", tracker.Total())

	sessionID := ""
	var history []models.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			fmt.Print("> ")
			continue
		}
		if prompt == "/quit" {
			break
		}

		history = append(history, models.ChatMessage{Role: models.RoleUser, Content: prompt})

		estimate := c.fetchEstimate(*model, history)
		ticket := tracker.Begin(estimate)
		fmt.Printf("(~%s trees pending) thinking...\n", tracker.Total())

		reply, err := c.submitChat(chatRequest{
			SessionID: sessionID,
			Model:     *model,
			Messages:  history,
		})
		if err != nil {
			if rbErr := tracker.Rollback(ticket); rbErr != nil {
				log.Printf("rollback: %v", rbErr)
			}
			// Drop the failed turn so retries resend a clean history.
			history = history[:len(history)-1]
			fmt.Printf("request failed: %v\ntrees planted: %s\n> ", err, tracker.Total())
			continue
		}

		if err := tracker.Confirm(ticket, reply.TreesAdded); err != nil {
			log.Printf("confirm: %v", err)
		}
		tracker.SyncAuthoritative(reply.UserTotalTrees)

		sessionID = reply.SessionID.String()
		history = append(history, models.ChatMessage{Role: models.RoleAssistant, Content: reply.ResponseText})

		fmt.Printf("\n%s\n\n+%s trees (total %s)\n", reply.ResponseText, reply.TreesAdded, tracker.Total())
		for _, threshold := range reply.Milestones {
			fmt.Printf("milestone reached: %d trees!\n", threshold)
		}
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}
}

// fetchEstimate returns the advisory tree estimate for the pending prompt,
// or zero when the estimate endpoint is unavailable. The display recovers
// either way once the authoritative receipt arrives.
func (c *client) fetchEstimate(model string, messages []models.ChatMessage) decimal.Decimal {
	var resp estimateResponse
	err := c.postJSON("/v1/chat/estimate", estimateRequest{Model: model, Messages: messages}, &resp)
	if err != nil || resp.EstimatedTrees == nil {
		return decimal.Zero
	}
	return *resp.EstimatedTrees
}

func (c *client) submitChat(req chatRequest) (chatResponse, error) {
	var resp chatResponse
	if err := c.postJSON("/v1/chat", req, &resp); err != nil {
		return chatResponse{}, err
	}
	return resp, nil
}

func (c *client) fetchProfile() (profileResponse, error) {
	httpReq, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/me", nil)
	if err != nil {
		return profileResponse{}, err
	}
	c.setIdentity(httpReq)

	var resp profileResponse
	if err := c.do(httpReq, &resp); err != nil {
		return profileResponse{}, err
	}
	return resp, nil
}

func (c *client) postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setIdentity(httpReq)
	return c.do(httpReq, out)
}

func (c *client) setIdentity(req *http.Request) {
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("X-User-Email", c.email)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
