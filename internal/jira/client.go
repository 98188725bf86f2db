// Package jira is a minimal client for the ticket platform's REST API:
// issue fetch, attachment download, commenting, reassignment and project
// search. Only the fields the triage pipeline needs are modeled.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AgentSignature is appended to every comment the agent posts.
const AgentSignature = "\n\n— AssistIQ Agent"

// jiraTimeLayout is the platform's issue timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// ErrReassignFailed reports that the comment was posted but the assignee
// change was rejected. Callers degrade to comment-only on this error.
var ErrReassignFailed = errors.New("jira: reassignment failed")

// Attachment is one file attached to an issue.
type Attachment struct {
	Filename string
	URL      string
	MimeType string
}

// TicketDetails is the subset of an issue the validation pipeline consumes.
type TicketDetails struct {
	Key              string
	Summary          string
	Description      string
	ReporterID       string
	ImageAttachments []Attachment
	OtherAttachments []Attachment
	Updated          time.Time
}

// IssueRef is a search result: key plus last-updated timestamp.
type IssueRef struct {
	Key     string
	Updated time.Time
}

// Client talks to one Jira-compatible instance with basic auth.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a ticket platform client.
func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Updated     string `json:"updated"`
		Reporter    *struct {
			AccountID string `json:"accountId"`
		} `json:"reporter"`
		Attachment []struct {
			Filename string `json:"filename"`
			Content  string `json:"content"`
			MimeType string `json:"mimeType"`
		} `json:"attachment"`
	} `json:"fields"`
}

// GetTicketDetails fetches summary, description, reporter and attachments,
// splitting image attachments from the rest so vision-capable models can
// receive them verbatim.
func (c *Client) GetTicketDetails(ctx context.Context, ticketKey string) (TicketDetails, error) {
	var issue issueResponse
	path := fmt.Sprintf("/rest/api/2/issue/%s?fields=summary,description,reporter,attachment,updated", url.PathEscape(ticketKey))
	if err := c.getJSON(ctx, path, &issue); err != nil {
		return TicketDetails{}, fmt.Errorf("jira: get issue %s: %w", ticketKey, err)
	}

	d := TicketDetails{
		Key:         ticketKey,
		Summary:     issue.Fields.Summary,
		Description: issue.Fields.Description,
	}
	if issue.Fields.Reporter != nil {
		d.ReporterID = issue.Fields.Reporter.AccountID
	}
	if issue.Fields.Updated != "" {
		if ts, err := time.Parse(jiraTimeLayout, issue.Fields.Updated); err == nil {
			d.Updated = ts
		}
	}
	for _, a := range issue.Fields.Attachment {
		att := Attachment{Filename: a.Filename, URL: a.Content, MimeType: a.MimeType}
		if strings.Contains(a.MimeType, "image") {
			d.ImageAttachments = append(d.ImageAttachments, att)
		} else {
			d.OtherAttachments = append(d.OtherAttachments, att)
		}
	}
	return d, nil
}

// DownloadAttachment fetches an attachment's raw content.
func (c *Client) DownloadAttachment(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jira: create download request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira: download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira: download attachment: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// AddComment posts a comment to an issue.
func (c *Client) AddComment(ctx context.Context, ticketKey, comment string) error {
	body := map[string]string{"body": comment}
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", url.PathEscape(ticketKey))
	if err := c.send(ctx, http.MethodPost, path, body, http.StatusCreated, http.StatusOK); err != nil {
		return fmt.Errorf("jira: add comment to %s: %w", ticketKey, err)
	}
	return nil
}

// CommentAndReassign posts the comment first, then changes the assignee.
// When the assignee change fails the returned error wraps ErrReassignFailed;
// the comment has already been posted at that point.
func (c *Client) CommentAndReassign(ctx context.Context, ticketKey, comment, assigneeID string) error {
	if err := c.AddComment(ctx, ticketKey, comment); err != nil {
		return err
	}
	body := map[string]string{"accountId": assigneeID}
	path := fmt.Sprintf("/rest/api/2/issue/%s/assignee", url.PathEscape(ticketKey))
	if err := c.send(ctx, http.MethodPut, path, body, http.StatusNoContent, http.StatusOK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrReassignFailed, ticketKey, err)
	}
	return nil
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Updated string `json:"updated"`
		} `json:"fields"`
	} `json:"issues"`
}

// SearchProject lists issues under a project, most recently updated first,
// bounded by maxResults.
func (c *Client) SearchProject(ctx context.Context, project string, maxResults int) ([]IssueRef, error) {
	jql := url.QueryEscape(fmt.Sprintf("project = %s ORDER BY updated DESC", project))
	path := fmt.Sprintf("/rest/api/2/search?jql=%s&maxResults=%d&fields=updated", jql, maxResults)

	var result searchResponse
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("jira: search project %s: %w", project, err)
	}

	out := make([]IssueRef, 0, len(result.Issues))
	for _, issue := range result.Issues {
		ref := IssueRef{Key: issue.Key}
		if ts, err := time.Parse(jiraTimeLayout, issue.Fields.Updated); err == nil {
			ref.Updated = ts
		}
		out = append(out, ref)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(ctx context.Context, method, path string, body any, okStatuses ...int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, s := range okStatuses {
		if resp.StatusCode == s {
			return nil
		}
	}
	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
}
