package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProductionBaseURL = "https://www.bronhouderportaal-bro.nl/api"
	DemoBaseURL       = "https://demo.bronhouderportaal-bro.nl/api"
)

// Validation outcomes as the portal reports them.
const (
	StatusValid   = "VALIDE"
	StatusInvalid = "NIET_VALIDE"
)

// Delivery statuses. A delivery is accepted once it reports DOORGELEVERD and
// every brondocument in it reports OPGENOMEN_LVBRO.
const (
	DeliveryDelivered = "DOORGELEVERD"
	DocumentAccepted  = "OPGENOMEN_LVBRO"
)

// Client talks to the bronhouderportaal. It performs exactly one HTTP
// exchange per call and never retries; retry policy lives in the delivery
// state machine.
type Client struct {
	BaseURL    string
	ProjectID  string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client against the production portal, or the demo portal when
// demo is set.
func New(projectID, token string, demo bool) *Client {
	base := ProductionBaseURL
	if demo {
		base = DemoBaseURL
	}
	return &Client{
		BaseURL:   base,
		ProjectID: projectID,
		Token:     token,
		Timeout:   30 * time.Second,
	}
}

// ValidationResult is the portal's verdict on one source document.
type ValidationResult struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// Delivery identifies an accepted upload.
type Delivery struct {
	Identifier  string `json:"identifier"`
	Status      string `json:"status"`
	LastChanged string `json:"lastChanged"`
}

// Brondocument is the per-document status inside a delivery.
type Brondocument struct {
	Status string   `json:"status"`
	BroID  string   `json:"broId,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// DeliveryStatus is the polled state of a delivery.
type DeliveryStatus struct {
	Status        string         `json:"status"`
	LastChanged   string         `json:"lastChanged"`
	Brondocuments []Brondocument `json:"brondocuments"`
}

// Accepted reports whether the delivery reached terminal acceptance.
func (s DeliveryStatus) Accepted() bool {
	if s.Status != DeliveryDelivered || len(s.Brondocuments) == 0 {
		return false
	}
	for _, d := range s.Brondocuments {
		if d.Status != DocumentAccepted {
			return false
		}
	}
	return true
}

// BroID returns the registry id assigned to the first brondocument, if any.
func (s DeliveryStatus) BroID() string {
	for _, d := range s.Brondocuments {
		if d.BroID != "" {
			return d.BroID
		}
	}
	return ""
}

// TransportError marks a failure before any portal verdict was received. The
// state machine treats these as retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("registry transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks a 2xx response whose body could not be understood.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("registry protocol: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError wraps 4xx portal responses, which are rejections of the request.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Validate submits one source document for validation.
func (c *Client) Validate(ctx context.Context, document []byte) (ValidationResult, error) {
	var res ValidationResult
	err := c.doXML(ctx, http.MethodPost, "validate", document, &res)
	return res, err
}

// Deliver uploads one source document as a multipart delivery.
func (c *Client) Deliver(ctx context.Context, requestReference, filename string, document []byte) (Delivery, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("requestReference", requestReference); err != nil {
		return Delivery{}, err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return Delivery{}, err
	}
	if _, err := part.Write(document); err != nil {
		return Delivery{}, err
	}
	if err := w.Close(); err != nil {
		return Delivery{}, err
	}

	endpoint := fmt.Sprintf("uploads/%s", url.PathEscape(c.ProjectID))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Delivery{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var res Delivery
	if err := c.send(req, &res); err != nil {
		return Delivery{}, err
	}
	return res, nil
}

// PollStatus fetches the current state of a delivery.
func (c *Client) PollStatus(ctx context.Context, identifier string) (DeliveryStatus, error) {
	endpoint := fmt.Sprintf("uploads/%s/%s", url.PathEscape(c.ProjectID), url.PathEscape(identifier))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return DeliveryStatus{}, err
	}
	var res DeliveryStatus
	if err := c.send(req, &res); err != nil {
		return DeliveryStatus{}, err
	}
	return res, nil
}

func (c *Client) doXML(ctx context.Context, method, endpoint string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// httpClient never mutates the Client: one Client is shared by all workers.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return &TransportError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(b))}
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProtocolError{Err: err}
		}
	}
	return nil
}
