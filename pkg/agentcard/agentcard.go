// Package agentcard discovers, parses, and generates A2A Agent Cards,
// the /.well-known/agent.json discovery document.
package agentcard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/VibeTensor/attestix/pkg/ssrf"
)

const (
	WellKnownPath   = "/.well-known/agent.json"
	discoverTimeout = 10 * time.Second
)

var (
	ErrHTTPSRequired = errors.New("agentcard: only https URLs are supported")
	ErrFetch         = errors.New("agentcard: fetch failed")
	ErrInvalidCard   = errors.New("agentcard: card does not match schema")
)

// cardSchema is the subset of the A2A card format that generated cards
// must satisfy.
const cardSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "url", "version", "capabilities", "skills"],
  "properties": {
    "id": {"type": "string", "pattern": "^attestix-[0-9a-f]{16}$"},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "url": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "capabilities": {
      "type": "object",
      "required": ["streaming", "pushNotifications", "stateTransitionHistory"],
      "properties": {
        "streaming": {"type": "boolean"},
        "pushNotifications": {"type": "boolean"},
        "stateTransitionHistory": {"type": "boolean"}
      }
    },
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    },
    "endpoints": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["url", "protocol", "method"]
      }
    },
    "defaultInputModes": {"type": "array", "items": {"type": "string"}},
    "defaultOutputModes": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledSchema = jsonschema.MustCompileString("agent-card.json", cardSchema)

// Service fetches remote cards through the SSRF guard.
type Service struct {
	guard *ssrf.Guard

	// newClient is swapped in tests.
	newClient func(timeout time.Duration) *http.Client
}

func NewService(guard *ssrf.Guard) *Service {
	return &Service{guard: guard, newClient: guard.NewClient}
}

// Discovered is the result of fetching a remote agent card.
type Discovered struct {
	SourceURL string                 `json:"source_url"`
	AgentCard map[string]interface{} `json:"agent_card"`
	Parsed    *Parsed                `json:"parsed"`
}

// Parsed holds the normalized view of an agent card.
type Parsed struct {
	Name                  string                 `json:"name"`
	Description           string                 `json:"description"`
	URL                   string                 `json:"url"`
	Version               string                 `json:"version"`
	Capabilities          []string               `json:"capabilities"`
	SkillsCount           int                    `json:"skills_count"`
	SkillsRaw             []interface{}          `json:"skills_raw"`
	AuthenticationSchemes []interface{}          `json:"authentication_schemes"`
	Provider              map[string]interface{} `json:"provider"`
	Streaming             bool                   `json:"streaming"`
	PushNotifications     bool                   `json:"push_notifications"`
}

// Discover fetches baseURL + /.well-known/agent.json. Only HTTPS targets
// are accepted and the host must pass the SSRF guard.
func (s *Service) Discover(ctx context.Context, baseURL string) (*Discovered, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(base, "https://") {
		return nil, ErrHTTPSRequired
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if err := s.guard.ValidateHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	cardURL := base + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.newClient(discoverTimeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d fetching %s", ErrFetch, resp.StatusCode, cardURL)
	}

	var card map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&card); err != nil {
		return nil, fmt.Errorf("%w: bad JSON from %s: %v", ErrFetch, cardURL, err)
	}

	return &Discovered{
		SourceURL: cardURL,
		AgentCard: card,
		Parsed:    Parse(card),
	}, nil
}

// Parse normalizes a raw agent card. Unknown shapes degrade to zero values
// rather than errors so callers can inspect whatever was published.
func Parse(card map[string]interface{}) *Parsed {
	p := &Parsed{
		Name:        str(card["name"], "Unknown Agent"),
		Description: str(card["description"], ""),
		URL:         str(card["url"], ""),
		Version:     str(card["version"], ""),
	}

	if skills, ok := card["skills"].([]interface{}); ok {
		p.SkillsRaw = skills
		p.SkillsCount = len(skills)
		for _, s := range skills {
			switch v := s.(type) {
			case map[string]interface{}:
				name := str(v["name"], str(v["id"], ""))
				p.Capabilities = append(p.Capabilities, name)
			case string:
				p.Capabilities = append(p.Capabilities, v)
			}
		}
	}

	switch auth := card["authentication"].(type) {
	case map[string]interface{}:
		if schemes, ok := auth["schemes"].([]interface{}); ok {
			p.AuthenticationSchemes = schemes
		}
	case []interface{}:
		p.AuthenticationSchemes = auth
	}

	switch prov := card["provider"].(type) {
	case map[string]interface{}:
		p.Provider = prov
	case string:
		p.Provider = map[string]interface{}{"organization": prov}
	}

	if caps, ok := card["capabilities"].(map[string]interface{}); ok {
		p.Streaming, _ = caps["streaming"].(bool)
		p.PushNotifications, _ = caps["pushNotifications"].(bool)
	}
	return p
}

// Skill is one entry in a generated card's skills list.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Generated bundles a fresh card with its hosting instructions.
type Generated struct {
	AgentCard    map[string]interface{} `json:"agent_card"`
	HostingPath  string                 `json:"hosting_path"`
	Instructions string                 `json:"instructions"`
}

// Generate builds an agent card for an agent hosted at url and validates
// it against the embedded schema before returning.
func Generate(name, cardURL, description string, skills []Skill, version string) (*Generated, error) {
	if name == "" || cardURL == "" {
		return nil, fmt.Errorf("%w: name and url are required", ErrInvalidCard)
	}
	if version == "" {
		version = "1.0.0"
	}
	if skills == nil {
		skills = []Skill{}
	}

	sum := sha256.Sum256([]byte(cardURL))
	skillList := make([]interface{}, 0, len(skills))
	for _, s := range skills {
		entry := map[string]interface{}{"id": s.ID, "name": s.Name}
		if s.Description != "" {
			entry["description"] = s.Description
		}
		skillList = append(skillList, entry)
	}

	card := map[string]interface{}{
		"id":          "attestix-" + hex.EncodeToString(sum[:])[:16],
		"name":        name,
		"description": description,
		"url":         cardURL,
		"version":     version,
		"capabilities": map[string]interface{}{
			"streaming":              false,
			"pushNotifications":      false,
			"stateTransitionHistory": false,
		},
		"skills": skillList,
		"endpoints": []interface{}{
			map[string]interface{}{
				"url":      strings.TrimRight(cardURL, "/") + "/tasks",
				"protocol": "https",
				"method":   "POST",
			},
		},
		"provider":           map[string]interface{}{"organization": "Attestix"},
		"authentication":     map[string]interface{}{"schemes": []interface{}{"bearer"}},
		"defaultInputModes":  []interface{}{"text/plain"},
		"defaultOutputModes": []interface{}{"text/plain"},
	}

	if err := compiledSchema.Validate(card); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}

	return &Generated{
		AgentCard:   card,
		HostingPath: WellKnownPath,
		Instructions: fmt.Sprintf(
			"Host this JSON at %s%s to make the agent discoverable via the A2A protocol.",
			cardURL, WellKnownPath),
	}, nil
}

func str(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
