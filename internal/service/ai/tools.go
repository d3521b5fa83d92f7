package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"portfoliochat/internal/config"
)

const lookupToolName = "lookup_public_info"

var errLookupRateLimited = errors.New("lookup limit reached for this conversation, answer without it")

// searchBackend is one search engine behind the lookup tool, tried in order.
type searchBackend struct {
	name string
	tool tool.InvokableTool
}

// lookupTool lets the assistant check public facts a visitor brings up, such
// as their company or a technology they name. It never covers the candidate;
// those answers come from the profile only.
type lookupTool struct {
	backends   []searchBackend
	httpClient *http.Client
	limiter    *toolRateLimiter
}

type lookupParams struct {
	Query string `json:"query"`
}

// NewLookupTool builds the lookup tool from config. It returns nil when the
// tool is disabled or no search backend can be built.
func NewLookupTool(cfg config.SearchConfig) tool.InvokableTool {
	if !cfg.Enabled {
		return nil
	}
	var backends []searchBackend
	if t := newGoogleSearch(cfg); t != nil {
		backends = append(backends, searchBackend{name: "google", tool: t})
	}
	if t := newDuckDuckGoSearch(cfg); t != nil {
		backends = append(backends, searchBackend{name: "duckduckgo", tool: t})
	}
	if len(backends) == 0 {
		log.Printf("ai: lookup tool disabled: no search backend available")
		return nil
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = lookupRateLimit
	}
	lt := &lookupTool{
		backends:   backends,
		httpClient: &http.Client{Timeout: lookupHTTPTimeout},
		limiter:    newToolRateLimiter(limit, lookupRateWindow),
	}
	return utils.NewTool(lookupToolInfo(), lt.run)
}

func lookupToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: lookupToolName,
		Desc: "Look up public information about something the visitor mentioned, " +
			"such as their company, a product or a technology. Accepts a search query " +
			"or a URL the visitor shared. Do not use it for facts about the candidate.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Search query or http(s) URL",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func (l *lookupTool) run(ctx context.Context, params *lookupParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query must not be empty")
	}
	query := strings.TrimSpace(params.Query)

	key := "anonymous"
	if sessionID, ok := ToolSessionFromContext(ctx); ok {
		key = sessionID
	}
	if l.limiter != nil && !l.limiter.Allow(key) {
		return "", errLookupRateLimited
	}

	if looksLikeURL(query) {
		content, err := l.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		log.Printf("ai: lookup fetch %s for %s: %v", query, key, err)
	}

	payload, err := json.Marshal(lookupParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal lookup query: %w", err)
	}
	for _, b := range l.backends {
		result, err := b.tool.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		log.Printf("ai: lookup via %s for %s: %v", b.name, key, err)
	}
	return "", errors.New("lookup failed on every search backend")
}

// newDuckDuckGoSearch needs no credentials; it is the last backend tried.
func newDuckDuckGoSearch(cfg config.SearchConfig) tool.InvokableTool {
	t, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   lookupToolName + "_ddg",
		ToolDesc:   "DuckDuckGo text search",
		MaxResults: maxResults(cfg),
		Region:     duckduckgo.RegionWT,
		Timeout:    lookupHTTPTimeout,
	})
	if err != nil {
		log.Printf("ai: duckduckgo backend disabled: %v", err)
		return nil
	}
	return t
}

// newGoogleSearch needs both a key and a custom search engine id.
func newGoogleSearch(cfg config.SearchConfig) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		return nil
	}
	t, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       lookupToolName + "_google",
		ToolDesc:       "Google custom search",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            maxResults(cfg),
	})
	if err != nil {
		log.Printf("ai: google backend disabled: %v", err)
		return nil
	}
	return t
}

func maxResults(cfg config.SearchConfig) int {
	if cfg.MaxResults <= 0 {
		return 3
	}
	return cfg.MaxResults
}
