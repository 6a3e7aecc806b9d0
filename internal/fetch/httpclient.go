package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/git-vfs/gitvfs/internal/retry"
)

// contentTypeHeader is the response header the server uses to discriminate
// a fetch response body; see §6 of the design notes.
const contentTypeHeader = "X-Object-Content-Type"

// ObjectResponse is a single attempt's response, handed to the caller's
// success hook before the wrapper decides whether to retry.
type ObjectResponse struct {
	ContentType ContentType
	Body        io.ReadCloser
}

// SuccessFunc processes one successful HTTP response (status 2xx) and
// decides whether the overall request should be retried (e.g. because the
// body turned out to be truncated) or treated as permanently failed.
type SuccessFunc func(attempt int, resp *ObjectResponse) retry.Outcome

// Client is the retryable HTTP client consumed by the object fetcher. It
// wraps every attempt in retry.Invoke and every TCP dial in a
// cenkalti/backoff/v5 reconnect loop, matching the teacher's own
// reconnect-with-backoff pattern for its streaming subscription.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
	backoffBase float64
}

// NewClient builds a Client against baseURL (e.g.
// "https://git.example.com/repo.git"). dialTimeout bounds each individual
// TCP connect attempt; reconnects beyond that are governed by backoff.
func NewClient(baseURL string, maxAttempts int, backoffBase float64, dialTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		DialContext: reconnectingDialContext(dialer),
	}
	return &Client{
		httpClient:  &http.Client{Transport: transport},
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// reconnectingDialContext wraps dialer.DialContext so a transient connect
// failure (connection refused, DNS hiccup) is retried with exponential
// backoff before bubbling up to the retry.Invoke attempt loop above it.
func reconnectingDialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		op := func() (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
		return backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(3),
		)
	}
}

func (c *Client) looseObjectURL(sha SHA) string {
	return fmt.Sprintf("%s/objects/%s", c.baseURL, url.PathEscape(string(sha)))
}

func (c *Client) bulkObjectsURL(preferBatched bool, commitDepth int) string {
	q := url.Values{}
	q.Set("depth", strconv.Itoa(commitDepth))
	if preferBatched {
		q.Set("prefer", "batched-loose-objects")
	}
	return fmt.Sprintf("%s/objects/batch?%s", c.baseURL, q.Encode())
}

// FetchLooseObject requests a single object by SHA, retrying per C1 on
// transient failure. onSuccess is invoked once per 2xx response and its
// returned Outcome decides whether retry.Invoke retries or stops.
func (c *Client) FetchLooseObject(ctx context.Context, sha SHA, onSuccess SuccessFunc) retry.Result[struct{}] {
	op := func(attempt int) (struct{}, retry.Outcome) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.looseObjectURL(sha), nil)
		if err != nil {
			return struct{}{}, retry.Outcome{Err: err}
		}
		return struct{}{}, c.doAttempt(attempt, req, onSuccess)
	}
	return retry.Invoke(op, c.maxAttempts, c.backoffBase, nil)
}

// FetchObjects requests a batch of SHAs at the given commit depth,
// preferring a batched-loose-objects response when preferBatched is set.
// On a retried attempt, only the SHAs not yet recorded in succeeded are
// re-requested: onSuccess is expected to call succeeded.mark for every
// SHA it durably writes as it processes a BatchedLooseObjects response.
func (c *Client) FetchObjects(ctx context.Context, shas []SHA, commitDepth int, preferBatched bool, succeeded *shaSet, onSuccess SuccessFunc) retry.Result[struct{}] {
	op := func(attempt int) (struct{}, retry.Outcome) {
		remaining := succeeded.remaining(shas)
		if len(remaining) == 0 {
			return struct{}{}, retry.Outcome{}
		}
		body, err := encodeBulkRequestBody(remaining)
		if err != nil {
			return struct{}{}, retry.Outcome{Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bulkObjectsURL(preferBatched, commitDepth), body)
		if err != nil {
			return struct{}{}, retry.Outcome{Err: err}
		}
		req.Header.Set("Content-Type", "application/x-git-sha-list")
		return struct{}{}, c.doAttempt(attempt, req, onSuccess)
	}
	return retry.Invoke(op, c.maxAttempts, c.backoffBase, nil)
}

func (c *Client) doAttempt(attempt int, req *http.Request, onSuccess SuccessFunc) retry.Outcome {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return retry.Outcome{Retry: true, Err: fmt.Errorf("fetch: unexpected status %d for %s", resp.StatusCode, req.URL)}
	}
	defer resp.Body.Close()

	ct, err := parseContentType(resp.Header.Get(contentTypeHeader))
	if err != nil {
		return retry.Outcome{Err: err}
	}
	return onSuccess(attempt, &ObjectResponse{ContentType: ct, Body: resp.Body})
}

func parseContentType(header string) (ContentType, error) {
	switch header {
	case "loose-object":
		return ContentLooseObject, nil
	case "pack-file":
		return ContentPackFile, nil
	case "batched-loose-objects":
		return ContentBatchedLooseObjects, nil
	default:
		return 0, fmt.Errorf("fetch: unrecognized %s header %q", contentTypeHeader, header)
	}
}

func encodeBulkRequestBody(shas []SHA) (io.Reader, error) {
	var b strings.Builder
	for _, sha := range shas {
		b.WriteString(string(sha))
		b.WriteByte('\n')
	}
	return strings.NewReader(b.String()), nil
}
