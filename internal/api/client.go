package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grantgumina/kraken/internal/model"
)

const (
	tokenHeader     = "x-access-token"
	lineLimitHeader = "x-line-limit"
	contentType     = "application/json"

	// maxErrorBody bounds how much of a failed response is kept as message.
	maxErrorBody = 4096
)

// Client talks to the remote job/log collection service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New returns a client for serverURL. Requests time out after timeout; zero
// means no timeout.
func New(serverURL string, timeout time.Duration) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the server url with a scheme, e.g. `http://some-url.com`")
	}
	parsedURL.RawQuery = ""
	parsedURL.Fragment = ""

	return &Client{
		baseURL: strings.TrimRight(parsedURL.String(), "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// WithToken returns a copy of c authenticating with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// Login exchanges the account credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"
	var tok model.Token
	err := c.do(ctx, op, http.MethodPost, c.endpoint("auth", "login"), nil,
		model.Credentials{Email: email, Password: password}, &tok)
	if err != nil {
		return "", err
	}
	if !tok.Auth || tok.Token == "" {
		return "", &Error{Kind: KindServer, Op: op, Status: http.StatusOK, Message: "authentication failed"}
	}
	return tok.Token, nil
}

// CreateJob registers a new Job Record owned by machine.
func (c *Client) CreateJob(ctx context.Context, machine, name, description string) error {
	job := model.Job{Machine: machine, Name: name, Description: description}
	err := c.do(ctx, "create job", http.MethodPost, c.endpoint("jobs", "new"), nil, job, nil)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "job record created", "job", name, "machine", machine)
	return nil
}

func (c *Client) ListJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := c.do(ctx, "list jobs", http.MethodGet, c.endpoint("jobs"), nil, nil, &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// FetchLogs returns up to lineLimit of the most recent lines of a job.
func (c *Client) FetchLogs(ctx context.Context, jobID string, lineLimit int) ([]model.LogLine, error) {
	var lines []model.LogLine
	header := http.Header{}
	header.Set(lineLimitHeader, strconv.Itoa(lineLimit))
	err := c.do(ctx, "fetch logs", http.MethodGet, c.endpoint("jobs", jobID), header, nil, &lines)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *Client) RemoveJob(ctx context.Context, name string) error {
	return c.do(ctx, "remove job", http.MethodDelete, c.endpoint("jobs", name), nil, nil, nil)
}

func (c *Client) RemoveAllJobs(ctx context.Context) error {
	return c.do(ctx, "remove all jobs", http.MethodPost, c.endpoint("jobs", "remove-all"), nil, nil, nil)
}

// SubmitLine relays one Log Line tagged with jobName.
func (c *Client) SubmitLine(ctx context.Context, jobName, line string) error {
	body := model.NewLogLine{JobName: jobName, Line: line}
	return c.do(ctx, "submit line", http.MethodPost, c.endpoint("logs", "new"), nil, body, nil)
}

func (c *Client) endpoint(elem ...string) string {
	escaped := make([]string, len(elem))
	for i, e := range elem {
		escaped[i] = url.PathEscape(e)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, header http.Header, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindOther, Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &Error{Kind: KindOther, Op: op, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeServerError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindDecode, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding json response failed: %w", err)}
	}
	return nil
}

func decodeServerError(op string, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Status: resp.StatusCode, Err: err}
	}
	var se model.ServerError
	if json.Unmarshal(raw, &se) == nil && se.Message != "" {
		return &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Message: se.Message}
	}
	return &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
