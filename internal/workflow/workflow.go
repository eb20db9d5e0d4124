// Package workflow renders an n8n workflow that repeats a scouting query daily
// and forwards the results to a webhook.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlaceholderURL is written when no webhook URL is configured.
const PlaceholderURL = "YOUR_WEBHOOK_URL"

// DefaultModel is used when Params.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Node names; connections refer to them.
const (
	scheduleNode = "Schedule (Daily)"
	agentNode    = "Gemini Agent"
	webhookNode  = "Send to CRM/Webhook"
)

// Params describes the query the workflow repeats.
type Params struct {
	Product    string
	Region     string
	Limit      int
	WebhookURL string
	Model      string
}

type document struct {
	Name        string                `json:"name"`
	Nodes       []node                `json:"nodes"`
	Connections map[string]connection `json:"connections"`
}

type node struct {
	Parameters  map[string]any `json:"parameters"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Position    [2]int         `json:"position"`
}

type connection struct {
	Main [][]target `json:"main"`
}

type target struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Generate returns the workflow as JSON indented with two spaces. It has no
// side effects.
func Generate(p Params) ([]byte, error) {
	webhookURL := strings.TrimSpace(p.WebhookURL)
	if webhookURL == "" {
		webhookURL = PlaceholderURL
	}
	model := p.Model
	if model == "" {
		model = DefaultModel
	}

	doc := document{
		Name: fmt.Sprintf("Importer Scout: %s in %s", p.Product, p.Region),
		Nodes: []node{
			{
				Parameters: map[string]any{
					"rule": map[string]any{
						"interval": []map[string]any{{"field": "hours", "hoursInterval": 24}},
					},
				},
				Name:        scheduleNode,
				Type:        "n8n-nodes-base.scheduleTrigger",
				TypeVersion: 1.1,
				Position:    [2]int{0, 0},
			},
			{
				Parameters: map[string]any{
					"prompt": fmt.Sprintf(
						"Find %d importers of %s in %s. Return JSON with companyName, email, phone, website, and geolocation coordinates.",
						p.Limit, p.Product, p.Region),
					"model":   model,
					"options": map[string]any{},
				},
				Name:        agentNode,
				Type:        "n8n-nodes-base.googleGemini",
				TypeVersion: 1,
				Position:    [2]int{200, 0},
			},
			{
				Parameters: map[string]any{
					"httpMethod": "POST",
					"path":       webhookURL,
					"options":    map[string]any{},
				},
				Name:        webhookNode,
				Type:        "n8n-nodes-base.httpRequest",
				TypeVersion: 3,
				Position:    [2]int{400, 0},
			},
		},
		Connections: map[string]connection{
			scheduleNode: link(agentNode),
			agentNode:    link(webhookNode),
		},
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return out, nil
}

func link(to string) connection {
	return connection{Main: [][]target{{{Node: to, Type: "main", Index: 0}}}}
}
