// Package gateway is the HTTP implementation of the remote resource
// gateway contract. Failures decode into *remote.Error so the application
// layer can pass gateway messages through verbatim and recognise explicit
// invalid-token responses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"libres/internal/application/remote"
	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// DefaultTimeout bounds every gateway call; the application layer treats a
// timeout like any other failure.
const DefaultTimeout = 15 * time.Second

// Client talks to the remote resource gateway over HTTP/JSON. It holds the
// bearer token; authflow installs and clears it on session changes.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a Client for the gateway at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
}

// SetToken installs the bearer token for subsequent calls; empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Wire shapes. The gateway speaks camelCase JSON.

type userPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsVerified bool   `json:"isVerified"`
}

type authnPayload struct {
	User  userPayload `json:"user"`
	Token string      `json:"token"`
}

type errorPayload struct {
	Message           string `json:"message"`
	NeedsVerification bool   `json:"needsVerification"`
}

type recordPayload struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Kind         string `json:"type"`
	Status       string `json:"status"`
	AdminNote    string `json:"adminNote"`
	ActivityName string `json:"activityName"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Participants int    `json:"participants"`
	CreatedAt    string `json:"createdAt"`
}

type listPayload struct {
	Data       []recordPayload `json:"data"`
	Pagination struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
		Total int `json:"total"`
	} `json:"pagination"`
}

type statsPayload struct {
	Summary struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Approved  int `json:"approved"`
		Rejected  int `json:"rejected"`
		Completed int `json:"completed"`
		Cancelled int `json:"cancelled"`
	} `json:"summary"`
}

// Login implements remote.AuthGateway.
func (c *Client) Login(ctx context.Context, email, password string) (remote.Authn, error) {
	var out authnPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &out); err != nil {
		return remote.Authn{}, err
	}
	return remote.Authn{User: out.User.profile(), Token: out.Token}, nil
}

// Register implements remote.AuthGateway.
func (c *Client) Register(ctx context.Context, in remote.RegisterInput) (session.Profile, error) {
	var out struct {
		User userPayload `json:"user"`
	}
	body := map[string]string{"name": in.Name, "email": in.Email, "password": in.Password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, body, &out); err != nil {
		return session.Profile{}, err
	}
	return out.User.profile(), nil
}

// GetCurrentUser implements remote.AuthGateway using the installed token.
func (c *Client) GetCurrentUser(ctx context.Context) (session.Profile, error) {
	var out struct {
		User userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return session.Profile{}, err
	}
	return out.User.profile(), nil
}

// VerifyEmail implements remote.AuthGateway.
func (c *Client) VerifyEmail(ctx context.Context, token, email string) (remote.Authn, error) {
	var out authnPayload
	body := map[string]string{"token": token, "email": email}
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify-email", nil, body, &out); err != nil {
		return remote.Authn{}, err
	}
	return remote.Authn{User: out.User.profile(), Token: out.Token}, nil
}

// ResendVerification implements remote.AuthGateway.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/resend-verification", nil, map[string]string{"email": email}, nil)
}

// ForgotPassword implements remote.AuthGateway.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/forgot-password", nil, map[string]string{"email": email}, nil)
}

// ResetPassword implements remote.AuthGateway.
func (c *Client) ResetPassword(ctx context.Context, token, email, newPassword string) (remote.Authn, error) {
	var out authnPayload
	body := map[string]string{"token": token, "email": email, "password": newPassword}
	if err := c.do(ctx, http.MethodPost, "/api/auth/reset-password", nil, body, &out); err != nil {
		return remote.Authn{}, err
	}
	return remote.Authn{User: out.User.profile(), Token: out.Token}, nil
}

// ChangePassword implements remote.AuthGateway.
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) (remote.Authn, error) {
	var out authnPayload
	body := map[string]string{"currentPassword": currentPassword, "newPassword": newPassword}
	if err := c.do(ctx, http.MethodPut, "/api/auth/change-password", nil, body, &out); err != nil {
		return remote.Authn{}, err
	}
	return remote.Authn{User: out.User.profile(), Token: out.Token}, nil
}

// UpdateProfile implements remote.AuthGateway.
func (c *Client) UpdateProfile(ctx context.Context, in remote.ProfileUpdate) (session.Profile, error) {
	var out struct {
		User userPayload `json:"user"`
	}
	body := map[string]string{"name": in.Name, "email": in.Email}
	if err := c.do(ctx, http.MethodPut, "/api/auth/profile", nil, body, &out); err != nil {
		return session.Profile{}, err
	}
	return out.User.profile(), nil
}

// Logout implements remote.AuthGateway. Callers treat failures as
// best-effort.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

// ListRequests implements remote.RequestGateway.
func (c *Client) ListRequests(ctx context.Context, q remote.Query) (remote.Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	params.Set("sortBy", q.SortBy)
	params.Set("sortOrder", q.SortOrder)
	if q.StartDate != "" {
		params.Set("startDate", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("endDate", q.EndDate)
	}

	var out listPayload
	if err := c.do(ctx, http.MethodGet, "/api/requests", params, nil, &out); err != nil {
		return remote.Page{}, err
	}

	records := make([]request.Record, 0, len(out.Data))
	for _, p := range out.Data {
		records = append(records, p.record())
	}
	return remote.Page{
		Records: records,
		Page:    out.Pagination.Page,
		Pages:   out.Pagination.Pages,
		Total:   out.Pagination.Total,
	}, nil
}

// SubmitRequest creates a new pending booking or tour request owned by the
// authenticated user.
func (c *Client) SubmitRequest(ctx context.Context, in remote.Submission) (request.Record, error) {
	body := map[string]any{
		"type":         in.Kind,
		"activityName": in.Activity,
		"startTime":    in.StartsAt.UTC().Format(time.RFC3339),
		"endTime":      in.EndsAt.UTC().Format(time.RFC3339),
		"participants": in.Participants,
	}
	var out recordPayload
	if err := c.do(ctx, http.MethodPost, "/api/requests", nil, body, &out); err != nil {
		return request.Record{}, err
	}
	return out.record(), nil
}

// UpdateRequestStatus implements remote.RequestGateway.
func (c *Client) UpdateRequestStatus(ctx context.Context, id, status, adminNote string) error {
	body := map[string]string{"status": status, "adminNote": adminNote}
	return c.do(ctx, http.MethodPatch, "/api/requests/"+url.PathEscape(id)+"/status", nil, body, nil)
}

// DeleteRequest implements remote.RequestGateway.
func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/requests/"+url.PathEscape(id), nil, nil, nil)
}

// GetRequestStats implements remote.RequestGateway.
func (c *Client) GetRequestStats(ctx context.Context, period string) (remote.Stats, error) {
	params := url.Values{}
	if period != "" {
		params.Set("period", period)
	}
	var out statsPayload
	if err := c.do(ctx, http.MethodGet, "/api/requests/stats", params, nil, &out); err != nil {
		return remote.Stats{}, err
	}
	return remote.Stats{
		Total:     out.Summary.Total,
		Pending:   out.Summary.Pending,
		Approved:  out.Summary.Approved,
		Rejected:  out.Summary.Rejected,
		Completed: out.Summary.Completed,
		Cancelled: out.Summary.Cancelled,
	}, nil
}

// do performs one JSON round trip. Non-2xx responses become *remote.Error
// carrying the gateway's message; transport failures are wrapped so the
// caller's fallback message applies.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpc.Do(req)
	if err != nil {
		slog.Warn("gateway_call_failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ep errorPayload
		// A non-JSON error body still yields the status-only error.
		_ = json.NewDecoder(resp.Body).Decode(&ep)
		slog.Info("gateway_rejected", "method", method, "path", path, "status", resp.StatusCode, "message", ep.Message)
		return &remote.Error{
			StatusCode:        resp.StatusCode,
			Message:           ep.Message,
			NeedsVerification: ep.NeedsVerification,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p userPayload) profile() session.Profile {
	return session.Profile{
		ID:         p.ID,
		Name:       p.Name,
		Email:      p.Email,
		Role:       p.Role,
		IsVerified: p.IsVerified,
	}
}

func (p recordPayload) record() request.Record {
	return request.Record{
		ID:           p.ID,
		OwnerUserID:  p.UserID,
		Kind:         p.Kind,
		Status:       p.Status,
		AdminNote:    p.AdminNote,
		Activity:     p.ActivityName,
		StartsAt:     parseTime(p.StartTime),
		EndsAt:       parseTime(p.EndTime),
		Participants: p.Participants,
		CreatedAt:    parseTime(p.CreatedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
