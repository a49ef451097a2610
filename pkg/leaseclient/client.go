package leaseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	baseURL   string
	http      *http.Client
	rng       *rand.Rand
	projectID string
	roles     []string
}

// New builds a client acting as the given project. Roles are forwarded on
// every request; pass "admin" to act with administrative scope.
func New(baseURL, projectID string, roles []string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:   baseURL,
		http:      hc,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		projectID: projectID,
		roles:     roles,
	}
}

// ---- Wire format (matches the HTTP API) ----

type offerWire struct {
	UUID         string `json:"uuid,omitempty"`
	Name         string `json:"name,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	ResourceType string `json:"resource_type"`
	ResourceUUID string `json:"resource_uuid"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status,omitempty"`
}

type leaseWire struct {
	UUID      string `json:"uuid,omitempty"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
	OfferRef  string `json:"offer_uuid_or_name,omitempty"`
	OfferUUID string `json:"offer_uuid,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status,omitempty"`
}

type errWire struct {
	Error string `json:"error"`
}

func offerFromWire(w offerWire) Offer {
	start, _ := time.Parse(time.RFC3339, w.StartTime)
	end, _ := time.Parse(time.RFC3339, w.EndTime)
	return Offer{
		UUID:         w.UUID,
		Name:         w.Name,
		ProjectID:    w.ProjectID,
		ResourceType: w.ResourceType,
		ResourceUUID: w.ResourceUUID,
		StartTime:    start,
		EndTime:      end,
		Status:       w.Status,
	}
}

func leaseFromWire(w leaseWire) Lease {
	start, _ := time.Parse(time.RFC3339, w.StartTime)
	end, _ := time.Parse(time.RFC3339, w.EndTime)
	return Lease{
		UUID:      w.UUID,
		Name:      w.Name,
		ProjectID: w.ProjectID,
		OwnerID:   w.OwnerID,
		OfferUUID: w.OfferUUID,
		StartTime: start,
		EndTime:   end,
		Status:    w.Status,
	}
}

// ---- Offer operations ----

// CreateOfferRequest carries caller-supplied offer fields. ProjectID is
// optional and admin-only; it defaults to the client's project.
type CreateOfferRequest struct {
	UUID         string
	Name         string
	ProjectID    string
	ResourceType string
	ResourceUUID string
	Start        time.Time
	End          time.Time
}

func (c *Client) CreateOffer(ctx context.Context, req CreateOfferRequest) (Offer, error) {
	if req.ResourceType == "" || req.ResourceUUID == "" {
		return Offer{}, fmt.Errorf("resource type and uuid required")
	}
	path := c.baseURL + "/v1/offers"
	body := offerWire{
		UUID:         req.UUID,
		Name:         req.Name,
		ProjectID:    req.ProjectID,
		ResourceType: req.ResourceType,
		ResourceUUID: req.ResourceUUID,
		StartTime:    req.Start.UTC().Format(time.RFC3339),
		EndTime:      req.End.UTC().Format(time.RFC3339),
	}

	var out offerWire
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return Offer{}, err
	}
	if code == http.StatusCreated {
		return offerFromWire(out), nil
	}
	return Offer{}, c.statusErr(http.MethodPost, path, code, raw)
}

func (c *Client) GetOffer(ctx context.Context, ref string) (Offer, error) {
	path := c.baseURL + "/v1/offers/" + url.PathEscape(ref)
	var out offerWire
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return Offer{}, err
	}
	if code == http.StatusOK {
		return offerFromWire(out), nil
	}
	return Offer{}, c.statusErr(http.MethodGet, path, code, raw)
}

// ListOffers forwards query filters verbatim; see the server's accepted
// keys (project_id, status, resource_type, resource_uuid, view,
// start_time, end_time).
func (c *Client) ListOffers(ctx context.Context, query url.Values) ([]Offer, error) {
	path := c.baseURL + "/v1/offers"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out struct {
		Offers []offerWire `json:"offers"`
	}
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, c.statusErr(http.MethodGet, path, code, raw)
	}
	offers := make([]Offer, 0, len(out.Offers))
	for _, w := range out.Offers {
		offers = append(offers, offerFromWire(w))
	}
	return offers, nil
}

func (c *Client) CancelOffer(ctx context.Context, ref string) (Offer, error) {
	path := c.baseURL + "/v1/offers/" + url.PathEscape(ref)
	var out offerWire
	code, raw, err := c.doJSON(ctx, http.MethodDelete, path, nil, &out)
	if err != nil {
		return Offer{}, err
	}
	if code == http.StatusOK {
		return offerFromWire(out), nil
	}
	return Offer{}, c.statusErr(http.MethodDelete, path, code, raw)
}

// ---- Lease operations ----

// CreateLeaseRequest carries caller-supplied lease fields. OfferRef is the
// offer's UUID or unique name.
type CreateLeaseRequest struct {
	UUID     string
	Name     string
	OfferRef string
	Start    time.Time
	End      time.Time
}

func (c *Client) CreateLease(ctx context.Context, req CreateLeaseRequest) (Lease, error) {
	if req.OfferRef == "" {
		return Lease{}, fmt.Errorf("offer reference required")
	}
	path := c.baseURL + "/v1/leases"
	body := leaseWire{
		UUID:      req.UUID,
		Name:      req.Name,
		OfferRef:  req.OfferRef,
		StartTime: req.Start.UTC().Format(time.RFC3339),
		EndTime:   req.End.UTC().Format(time.RFC3339),
	}

	var out leaseWire
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return Lease{}, err
	}
	if code == http.StatusCreated {
		return leaseFromWire(out), nil
	}
	return Lease{}, c.statusErr(http.MethodPost, path, code, raw)
}

func (c *Client) GetLease(ctx context.Context, leaseUUID string) (Lease, error) {
	path := c.baseURL + "/v1/leases/" + url.PathEscape(leaseUUID)
	var out leaseWire
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return Lease{}, err
	}
	if code == http.StatusOK {
		return leaseFromWire(out), nil
	}
	return Lease{}, c.statusErr(http.MethodGet, path, code, raw)
}

func (c *Client) ListLeases(ctx context.Context, query url.Values) ([]Lease, error) {
	path := c.baseURL + "/v1/leases"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out struct {
		Leases []leaseWire `json:"leases"`
	}
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, c.statusErr(http.MethodGet, path, code, raw)
	}
	leases := make([]Lease, 0, len(out.Leases))
	for _, w := range out.Leases {
		leases = append(leases, leaseFromWire(w))
	}
	return leases, nil
}

func (c *Client) CancelLease(ctx context.Context, leaseUUID string) (Lease, error) {
	path := c.baseURL + "/v1/leases/" + url.PathEscape(leaseUUID)
	var out leaseWire
	code, raw, err := c.doJSON(ctx, http.MethodDelete, path, nil, &out)
	if err != nil {
		return Lease{}, err
	}
	if code == http.StatusOK {
		return leaseFromWire(out), nil
	}
	return Lease{}, c.statusErr(http.MethodDelete, path, code, raw)
}

func (c *Client) ListNodes(ctx context.Context, query url.Values) ([]Node, error) {
	path := c.baseURL + "/v1/nodes"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, c.statusErr(http.MethodGet, path, code, raw)
	}
	return out.Nodes, nil
}

// ---- Retry wrapper ----

// CreateLeaseWithRetry retries only transient server-busy failures. A
// window conflict means another lease holds the window; retrying cannot
// change that answer, so it is returned immediately.
func (c *Client) CreateLeaseWithRetry(ctx context.Context, req CreateLeaseRequest, opt LeaseOptions) (Lease, error) {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 50
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 25 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 1 * time.Second
	}
	if opt.JitterFrac <= 0 {
		opt.JitterFrac = 0.2
	}

	start := time.Now()
	var lastBusy *BusyError

	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		if opt.MaxTotalWait > 0 && time.Since(start) > opt.MaxTotalWait {
			if lastBusy != nil {
				return Lease{}, lastBusy
			}
			return Lease{}, context.DeadlineExceeded
		}

		lease, err := c.CreateLease(ctx, req)
		if err == nil {
			return lease, nil
		}
		busy, ok := err.(*BusyError)
		if !ok {
			return Lease{}, err
		}
		lastBusy = busy

		sleep := time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		if sleep < opt.MinRetry {
			sleep = opt.MinRetry
		}
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		sleep = addJitter(c.rng, sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Lease{}, ctx.Err()
		case <-timer.C:
		}
	}

	if lastBusy != nil {
		return Lease{}, lastBusy
	}
	return Lease{}, fmt.Errorf("lease creation failed")
}

func addJitter(r *rand.Rand, d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (r.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}

// ---- Plumbing ----

func (c *Client) statusErr(method, path string, code int, raw string) error {
	var ew errWire
	_ = json.Unmarshal([]byte(raw), &ew)
	msg := ew.Error
	if msg == "" {
		msg = raw
	}
	switch code {
	case http.StatusConflict:
		return &ConflictError{Path: path, Message: msg}
	case http.StatusServiceUnavailable:
		return &BusyError{Path: path, Message: msg}
	}
	return &UnexpectedStatusError{Method: method, Path: path, Code: code, Body: raw}
}

// doJSON sends JSON with identity headers and optionally decodes the JSON
// response. Returns status code and raw body (trimmed) for debugging.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var rd io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		rd = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Project-ID", c.projectID)
	if len(c.roles) > 0 {
		httpReq.Header.Set("X-Roles", strings.Join(c.roles, ","))
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(body))

	if resp != nil && len(body) > 0 {
		_ = json.Unmarshal(body, resp) // tolerate non-JSON error bodies
	}
	return rsp.StatusCode, raw, nil
}
