// Package judge talks to the Codeforces public API: the problem catalog for
// room setup and submission history for solution verification.
// File: judge/client.go
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"blitzcup/logger"
	"blitzcup/models"
)

// ----------------------- upstream error taxonomy -----------------------

// Upstream failures are distinct conditions, never reinterpreted as a
// negative verification result.
var (
	ErrUpstreamUnavailable = errors.New("could not reach the Codeforces API")
	ErrUpstreamTimeout     = errors.New("the request to the Codeforces API timed out")
)

// verificationWindow is how many recent submissions we scan for a verdict.
const verificationWindow = 50

// requestTimeout bounds every judge call.
const requestTimeout = 10 * time.Second

// ----------------------- client -----------------------

// Client queries the Codeforces API. It holds no state beyond its HTTP
// client; every method is safe for concurrent use.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client against baseURL (e.g. "https://codeforces.com/api").
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: requestTimeout},
	}
}

// ----------------------- wire shapes -----------------------

type apiProblem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

type problemsetResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  struct {
		Problems []apiProblem `json:"problems"`
	} `json:"result"`
}

type apiSubmission struct {
	Verdict string     `json:"verdict"`
	Problem apiProblem `json:"problem"`
}

type userStatusResponse struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  []apiSubmission `json:"result"`
}

// ----------------------- operations -----------------------

// FetchCandidatePool queries the full problem catalog, keeps problems inside
// the rating band that are not special-tagged, and returns a shuffled sample
// of at most count. An upstream failure surfaces as an error; callers treat
// an empty or short pool as "insufficient problems", not a crash.
func (c *Client) FetchCandidatePool(ctx context.Context, count, minRating, maxRating int) ([]models.Problem, error) {
	var resp problemsetResponse
	if err := c.get(ctx, c.BaseURL+"/problemset.problems", &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		logger.Error.Printf("[FetchCandidatePool] Codeforces returned status=%s comment=%q", resp.Status, resp.Comment)
		return nil, ErrUpstreamUnavailable
	}

	var eligible []models.Problem
	for _, p := range resp.Result.Problems {
		if p.Rating < minRating || p.Rating > maxRating {
			continue
		}
		if hasSpecialTag(p.Tags) {
			continue
		}
		eligible = append(eligible, toProblem(p))
	}

	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if len(eligible) > count {
		eligible = eligible[:count]
	}
	logger.Info.Printf("[FetchCandidatePool] %d eligible problems in [%d,%d], returning %d",
		len(eligible), minRating, maxRating, len(eligible))
	return eligible, nil
}

// FetchSolvedSet returns the problem keys of handle's accepted submissions.
func (c *Client) FetchSolvedSet(ctx context.Context, handle string) (map[string]bool, error) {
	reqURL := fmt.Sprintf("%s/user.status?handle=%s", c.BaseURL, url.QueryEscape(handle))
	var resp userStatusResponse
	if err := c.get(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		logger.Error.Printf("[FetchSolvedSet] Codeforces returned status=%s comment=%q", resp.Status, resp.Comment)
		return nil, ErrUpstreamUnavailable
	}

	solved := make(map[string]bool)
	for _, sub := range resp.Result {
		if sub.Verdict == "OK" {
			solved[toProblem(sub.Problem).Key()] = true
		}
	}
	return solved, nil
}

// HasAcceptedSubmission reports whether handle has an accepted submission for
// problem among their recent submissions. Timeouts and connection failures
// map to the distinct upstream errors so the caller can retry or report
// rather than falsely reject.
func (c *Client) HasAcceptedSubmission(ctx context.Context, handle string, problem models.Problem) (bool, error) {
	reqURL := fmt.Sprintf("%s/user.status?handle=%s&from=1&count=%d",
		c.BaseURL, url.QueryEscape(handle), verificationWindow)
	var resp userStatusResponse
	if err := c.get(ctx, reqURL, &resp); err != nil {
		return false, err
	}
	if resp.Status != "OK" {
		logger.Error.Printf("[HasAcceptedSubmission] Codeforces returned status=%s comment=%q", resp.Status, resp.Comment)
		return false, ErrUpstreamUnavailable
	}

	for _, sub := range resp.Result {
		if sub.Verdict == "OK" &&
			sub.Problem.ContestID == problem.ContestID &&
			sub.Problem.Index == problem.Index {
			return true, nil
		}
	}
	return false, nil
}

// ----------------------- internals -----------------------

// get performs a bounded GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, reqURL string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ErrUpstreamUnavailable
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			logger.Warn.Printf("[judge.get] Timed out: %s", reqURL)
			return ErrUpstreamTimeout
		}
		logger.Warn.Printf("[judge.get] Request failed: %v", err)
		return ErrUpstreamUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warn.Printf("[judge.get] Non-OK upstream status %d from %s", resp.StatusCode, reqURL)
		return ErrUpstreamUnavailable
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.Warn.Printf("[judge.get] Bad upstream payload: %v", err)
		return ErrUpstreamUnavailable
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hasSpecialTag(tags []string) bool {
	for _, t := range tags {
		if t == "*special" {
			return true
		}
	}
	return false
}

func toProblem(p apiProblem) models.Problem {
	points := p.Rating
	if points == 0 {
		points = 100 // unrated problems still score
	}
	return models.Problem{
		ContestID: p.ContestID,
		Index:     p.Index,
		Name:      p.Name,
		URL:       fmt.Sprintf("https://codeforces.com/problemset/problem/%d/%s", p.ContestID, p.Index),
		Tags:      p.Tags,
		Points:    points,
	}
}
