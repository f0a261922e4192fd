// Package profile wraps the platform's profile and OTP collaborator services.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable wraps network failures, timeouts, and 5xx responses.
var ErrUnavailable = errors.New("profile service unavailable")

// ErrNotFound is returned when the user does not exist.
var ErrNotFound = errors.New("user not found")

// Profile is the subset of platform profile data the assistant uses.
type Profile struct {
	UserID       string `json:"user_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PrimaryEmail string `json:"primary_email"`
	Mobile       string `json:"mobile"`
	Organisation string `json:"organisation"`
	Designation  string `json:"designation"`
	KarmaPoints  int    `json:"karma_points"`
}

// Enrollment is one course enrolment with progress.
type Enrollment struct {
	CourseID       string  `json:"course_id"`
	CourseName     string  `json:"course_name"`
	CompletionPct  float64 `json:"completion_pct"`
	Completed      bool    `json:"completed"`
	HasCertificate bool    `json:"has_certificate"`
}

// Client communicates with the profile/OTP services over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client with the given base URL and per-call timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
		timeout:    timeout,
	}
}

// GetProfile fetches the user's profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := c.getJSON(ctx, "/api/user/v2/read/"+userID, &p)
	return p, err
}

// GetEnrollments fetches the user's course enrolments with progress.
func (c *Client) GetEnrollments(ctx context.Context, userID string) ([]Enrollment, error) {
	var out struct {
		Enrollments []Enrollment `json:"enrollments"`
	}
	if err := c.getJSON(ctx, "/api/course/v1/enrollments/"+userID, &out); err != nil {
		return nil, err
	}
	return out.Enrollments, nil
}

// SendOTP asks the platform to send a verification code to the contact
// (email address or mobile number). Re-sending for the same contact is safe:
// the platform invalidates prior codes.
func (c *Client) SendOTP(ctx context.Context, contact string) error {
	return c.postJSON(ctx, "/api/otp/v1/generate", map[string]string{"key": contact}, nil)
}

// VerifyOTP checks a code against the contact's pending OTP.
func (c *Client) VerifyOTP(ctx context.Context, contact, code string) (bool, error) {
	var out struct {
		Verified bool `json:"verified"`
	}
	err := c.postJSON(ctx, "/api/otp/v1/verify", map[string]string{"key": contact, "otp": code}, &out)
	if err != nil {
		return false, err
	}
	return out.Verified, nil
}

// UpdateField applies a profile field change. Allowed fields are first_name,
// primary_email, and mobile; the platform rejects anything else.
func (c *Client) UpdateField(ctx context.Context, userID, field, value string) error {
	body := map[string]string{"user_id": userID, "field": field, "value": value}
	return c.postJSON(ctx, "/api/user/v1/update", body, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("profile service error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
