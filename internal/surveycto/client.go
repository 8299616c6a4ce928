package surveycto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const userAgent = "SurveySync Connect"

// defaultCooldown is used when a rate-limit response carries no parsable
// wait hint. SurveyCTO's enforced quiet period on full pulls is 300s.
const defaultCooldown = 5 * time.Minute

var waitSecondsRe = regexp.MustCompile(`(?i)wait (?:for )?(\d+) seconds`)

// Record is one flat submission: column name to value. Values are usually
// strings; anything structured is serialized before it reaches the target.
type Record map[string]interface{}

// Credentials is the explicit scope passed into every call. There is no
// process-wide session state.
type Credentials struct {
	ServerURL string
	Username  string
	Password  string
}

// NormalizedURL returns the server URL with a scheme and no trailing slash.
func (c Credentials) NormalizedURL() string {
	raw := strings.TrimSpace(c.ServerURL)
	if !strings.Contains(raw, "://") {
		return "https://" + strings.Trim(raw, "/")
	}
	return strings.TrimRight(raw, "/")
}

// Fetcher is the boundary the sync runner consumes.
type Fetcher interface {
	FetchSubmissions(ctx context.Context, creds Credentials, formID string, since time.Time) ([]Record, error)
}

type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// FetchSubmissions pulls wide-JSON submissions for a form:
// GET /api/v2/forms/data/wide/json/{formId}?date={epoch_seconds}
// A zero since time means a full pull (epoch zero).
func (c *Client) FetchSubmissions(ctx context.Context, creds Credentials, formID string, since time.Time) ([]Record, error) {
	var date int64
	if !since.IsZero() {
		date = since.UTC().Unix()
	}
	endpoint := fmt.Sprintf("%s/api/v2/forms/data/wide/json/%s?date=%d",
		creds.NormalizedURL(), url.PathEscape(formID), date)

	resp, body, err := c.get(ctx, creds, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed,
		resp.StatusCode == http.StatusExpectationFailed,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(resp, body),
			StatusCode: resp.StatusCode,
			Message:    snippet(body),
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Message: "SurveyCTO credentials are invalid or access is denied"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &MalformedError{Message: fmt.Sprintf("form data endpoint not found for form %q", formID)}
	case resp.StatusCode >= 400:
		return nil, &MalformedError{Message: fmt.Sprintf("submissions request failed with status %d: %s", resp.StatusCode, snippet(body))}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "json") {
		return nil, &MalformedError{Message: fmt.Sprintf("submissions returned non-JSON content-type %q: %s", contentType, snippet(body))}
	}

	var payload []interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &MalformedError{Message: "submissions returned invalid JSON: " + snippet(body)}
	}

	// Tolerate non-object items; only flat records are usable.
	records := make([]Record, 0, len(payload))
	for _, item := range payload {
		if m, ok := item.(map[string]interface{}); ok {
			records = append(records, Record(m))
		}
	}
	c.logger.Debug().Str("form_id", formID).Int("records", len(records)).Msg("fetched submissions")
	return records, nil
}

// VerifyCredentials checks that the server accepts the credentials by
// requesting the form list.
func (c *Client) VerifyCredentials(ctx context.Context, creds Credentials) error {
	_, err := c.ListForms(ctx, creds)
	return err
}

func (c *Client) get(ctx context.Context, creds Credentials, endpoint, accept string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, &MalformedError{Message: "invalid request URL: " + err.Error()}
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	return c.do(req)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// parseRetryAfter extracts the requested wait from a Retry-After header or a
// "Please wait for N seconds" body, falling back to the default cooldown.
func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if m := waitSecondsRe.FindSubmatch(body); m != nil {
		if secs, err := strconv.Atoi(string(m[1])); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCooldown
}

func snippet(body []byte) string {
	s := strings.ReplaceAll(string(body), "\n", " ")
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
