package agents

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/parser"
	"github.com/kadirpekel/deepresearch/internal/researchmodel"
	"github.com/kadirpekel/deepresearch/internal/websearch"
)

// Finder generates search queries for a sub-question and turns the results
// into Source records, applying the per-domain and overall caps.
type Finder struct {
	LLM    LLM
	Search websearch.SearchProvider
}

const finderSystemPrompt = `You generate web search queries. Given a research sub-question,
respond with a JSON array of 1 to 3 concise search query strings that would surface good
sources. Respond with JSON only, no commentary.`

var scientificHosts = []string{"arxiv.org", "nature.com", "sciencedirect.com", "ncbi.nlm.nih.gov"}

// FindSources runs the finder for one sub-question and returns at most
// opts.MaxSourcesPerQuestion sources with no more than 2 per domain when
// diversity is enabled.
func (f Finder) FindSources(ctx context.Context, sq researchmodel.SubQuestion, opts researchmodel.Options) []researchmodel.Source {
	queries := f.generateQueries(ctx, sq.Question)

	perDomain := map[string]int{}
	seen := map[string]bool{}
	var sources []researchmodel.Source

	for _, q := range queries {
		if len(sources) >= opts.MaxSourcesPerQuestion {
			break
		}
		results, err := f.Search.Search(ctx, q, opts.SearchResultsPerQuery)
		if err != nil {
			// Web-search failure: empty result list for that query, continue.
			continue
		}
		for _, r := range results {
			if len(sources) >= opts.MaxSourcesPerQuestion {
				break
			}
			if r.URL == "" || seen[r.URL] {
				continue
			}
			domain := hostOf(r.URL)
			if opts.SourceDiversity && perDomain[domain] >= 2 {
				continue
			}

			seen[r.URL] = true
			perDomain[domain]++

			reliability, confidence := classifyReliability(domain)
			sources = append(sources, researchmodel.Source{
				ID:            sourceID(sq.ID, r.URL),
				URL:           r.URL,
				Title:         r.Title,
				Domain:        domain,
				Confidence:    confidence,
				Reliability:   reliability,
				Timestamp:     time.Now().UTC(),
				SubQuestionID: sq.ID,
			})
		}
	}

	return sources
}

func (f Finder) generateQueries(ctx context.Context, question string) []string {
	messages := []llmtransport.Message{
		{Role: "system", Content: finderSystemPrompt},
		{Role: "user", Content: question},
	}
	completion, err := f.LLM.ChatCompletion(ctx, messages, llmtransport.Options{
		ResponseFormat: llmtransport.ResponseFormatJSON,
	})
	if err != nil {
		return []string{question}
	}

	result := parser.Parse(completion.Content)
	items := result.Array()
	if len(items) == 0 {
		return []string{question}
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		if i >= 3 {
			break
		}
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{question}
	}
	return out
}

// classifyReliability maps a domain to a reliability tier and the fixed
// confidence score associated with it.
func classifyReliability(domain string) (researchmodel.Reliability, float64) {
	if strings.HasSuffix(domain, ".gov") || strings.HasSuffix(domain, ".edu") {
		return researchmodel.ReliabilityHigh, 0.8
	}
	for _, host := range scientificHosts {
		if domain == host || strings.HasSuffix(domain, "."+host) {
			return researchmodel.ReliabilityHigh, 0.8
		}
	}
	if strings.Contains(domain, ".") {
		return researchmodel.ReliabilityMedium, 0.65
	}
	return researchmodel.ReliabilityLow, 0.5
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// sourceID is deterministic from the sub-question id and a hash of the URL.
func sourceID(subQuestionID, rawURL string) string {
	h := sha1.Sum([]byte(rawURL))
	return fmt.Sprintf("%s-%s", subQuestionID, hex.EncodeToString(h[:])[:8])
}
