package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaseserver/internal/auth"
	"leaseserver/internal/errdefs"
	"leaseserver/internal/inventory"
	"leaseserver/internal/model"
	"leaseserver/internal/service"
	"leaseserver/internal/storage"
	"leaseserver/internal/timespan"
)

type Server struct {
	svc *service.Service
	mux *http.ServeMux
}

type contextKey string

const (
	requestIDKey contextKey = "req_id"
	identityKey  contextKey = "identity"
)

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withIdentity extracts the caller's already-established claims. Identity
// establishment (authentication) is an external collaborator; the
// surrounding system injects these headers after verifying the caller.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := r.Header.Get("X-Project-ID")
		if project == "" {
			writeErr(w, http.StatusUnauthorized, "X-Project-ID header required")
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get("X-Roles"), ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles = append(roles, role)
			}
		}
		ident := auth.Identity{ProjectID: project, Roles: roles}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerIdentity(r *http.Request) auth.Identity {
	ident, _ := r.Context().Value(identityKey).(auth.Identity)
	return ident
}

func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(withIdentity(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// simple path parsing to avoid extra router deps
	s.mux.HandleFunc("/v1/offers", s.handleOffers)
	s.mux.HandleFunc("/v1/offers/", s.handleOffer)
	s.mux.HandleFunc("/v1/leases", s.handleLeases)
	s.mux.HandleFunc("/v1/leases/", s.handleLease)
	s.mux.HandleFunc("/v1/nodes", s.handleNodes)
	s.mux.HandleFunc("/v1/policies", s.handlePolicies)
	s.mux.HandleFunc("/v1/policies/", s.handlePolicy)
	s.mux.HandleFunc("/v1/lease-requests", s.handleLeaseRequests)
	s.mux.HandleFunc("/v1/lease-requests/", s.handleLeaseRequest)
	s.mux.HandleFunc("/v1/policy-nodes", s.handlePolicyNodes)
	s.mux.HandleFunc("/v1/policy-nodes/", s.handlePolicyNode)
}

// --- offers ---

type offerReq struct {
	UUID         string `json:"uuid,omitempty"`
	Name         string `json:"name,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	ResourceType string `json:"resource_type"`
	ResourceUUID string `json:"resource_uuid"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type offerResp struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name,omitempty"`
	ProjectID    string `json:"project_id"`
	ResourceType string `json:"resource_type"`
	ResourceUUID string `json:"resource_uuid"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status"`
}

func offerToResp(o *model.Offer) offerResp {
	return offerResp{
		UUID:         o.UUID,
		Name:         o.Name,
		ProjectID:    o.ProjectID,
		ResourceType: o.ResourceType,
		ResourceUUID: o.ResourceUUID,
		StartTime:    o.StartTime.UTC().Format(time.RFC3339),
		EndTime:      o.EndTime.UTC().Format(time.RFC3339),
		Status:       string(o.Status),
	}
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req offerReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		start, end, err := parseWindow(req.StartTime, req.EndTime)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		offer, err := s.svc.CreateOffer(r.Context(), callerIdentity(r), service.CreateOfferRequest{
			UUID:         req.UUID,
			Name:         req.Name,
			ProjectID:    req.ProjectID,
			ResourceType: req.ResourceType,
			ResourceUUID: req.ResourceUUID,
			Start:        start,
			End:          end,
		})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, offerToResp(offer))

	case http.MethodGet:
		q, err := auth.ParseOfferQuery(r.URL.Query())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		offers, err := s.svc.ListOffers(r.Context(), callerIdentity(r), q, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]offerResp, 0, len(offers))
		for _, o := range offers {
			out = append(out, offerToResp(o))
		}
		writeJSON(w, http.StatusOK, map[string]any{"offers": out})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	ref := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/offers/"), "/")
	if ref == "" || strings.Contains(ref, "/") {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		var statuses []model.Status
		if v := r.URL.Query().Get("status"); v != "" && v != model.StatusAny {
			statuses = []model.Status{model.Status(v)}
		}
		offer, err := s.svc.GetOffer(r.Context(), ref, statuses, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offerToResp(offer))

	case http.MethodPatch:
		patch, err := readPatch(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		offer, err := s.svc.UpdateOffer(r.Context(), callerIdentity(r), ref, patch, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offerToResp(offer))

	case http.MethodDelete:
		offer, err := s.svc.CancelOffer(r.Context(), callerIdentity(r), ref, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offerToResp(offer))

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- leases ---

type leaseReq struct {
	UUID     string `json:"uuid,omitempty"`
	Name     string `json:"name,omitempty"`
	OfferRef string `json:"offer_uuid_or_name"`
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
}

type leaseResp struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`
	OfferUUID string `json:"offer_uuid"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

func leaseToResp(l *model.Lease) leaseResp {
	return leaseResp{
		UUID:      l.UUID,
		Name:      l.Name,
		ProjectID: l.ProjectID,
		OwnerID:   l.OwnerID,
		OfferUUID: l.OfferUUID,
		StartTime: l.StartTime.UTC().Format(time.RFC3339),
		EndTime:   l.EndTime.UTC().Format(time.RFC3339),
		Status:    string(l.Status),
	}
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req leaseReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		start, end, err := parseWindow(req.Start, req.End)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		lease, err := s.svc.CreateLease(r.Context(), callerIdentity(r), service.CreateLeaseRequestInput{
			UUID:     req.UUID,
			Name:     req.Name,
			OfferRef: req.OfferRef,
			Start:    start,
			End:      end,
		})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, leaseToResp(lease))

	case http.MethodGet:
		q, err := auth.ParseLeaseQuery(r.URL.Query())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		leases, err := s.svc.ListLeases(r.Context(), callerIdentity(r), q, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]leaseResp, 0, len(leases))
		for _, l := range leases {
			out = append(out, leaseToResp(l))
		}
		writeJSON(w, http.StatusOK, map[string]any{"leases": out})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/leases/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		lease, err := s.svc.GetLease(r.Context(), id, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, leaseToResp(lease))

	case http.MethodPatch:
		patch, err := readPatch(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		lease, err := s.svc.UpdateLease(r.Context(), callerIdentity(r), id, patch, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, leaseToResp(lease))

	case http.MethodDelete:
		lease, err := s.svc.CancelLease(r.Context(), callerIdentity(r), id, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, leaseToResp(lease))

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- nodes ---

type nodeResp struct {
	UUID          string            `json:"uuid"`
	Name          string            `json:"name"`
	ResourceClass string            `json:"resource_class,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Lessee        string            `json:"lessee,omitempty"`
	OfferUUID     string            `json:"offer_uuid,omitempty"`
	LeaseUUID     string            `json:"lease_uuid,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f := inventory.Filters{
		ResourceClass:   r.URL.Query().Get("resource_class"),
		OwnerProjectID:  r.URL.Query().Get("owner"),
		LesseeProjectID: r.URL.Query().Get("lessee"),
	}
	nodes, err := s.svc.ListNodes(r.Context(), f, time.Time{})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]nodeResp, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeResp{
			UUID:          n.UUID,
			Name:          n.Name,
			ResourceClass: n.ResourceClass,
			Owner:         n.Owner,
			Lessee:        n.Lessee,
			OfferUUID:     n.OfferUUID,
			LeaseUUID:     n.LeaseUUID,
			Properties:    n.Properties,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

// --- workflow entities ---

type namedReq struct {
	UUID string `json:"uuid,omitempty"`
	Name string `json:"name,omitempty"`
}

type namedResp struct {
	UUID      string `json:"uuid"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name,omitempty"`
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req namedReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := s.svc.CreatePolicy(r.Context(), callerIdentity(r), req.UUID, req.Name, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, namedResp{UUID: p.UUID, ProjectID: p.ProjectID, Name: p.Name})

	case http.MethodGet:
		ps, err := s.svc.ListPolicies(r.Context(), callerIdentity(r), r.URL.Query().Get("view"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]namedResp, 0, len(ps))
		for _, p := range ps {
			out = append(out, namedResp{UUID: p.UUID, ProjectID: p.ProjectID, Name: p.Name})
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": out})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := s.svc.GetPolicy(r.Context(), id)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, namedResp{UUID: p.UUID, ProjectID: p.ProjectID, Name: p.Name})

	case http.MethodPatch:
		var req namedReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := s.svc.UpdatePolicy(r.Context(), callerIdentity(r), id, &req.Name, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, namedResp{UUID: p.UUID, ProjectID: p.ProjectID, Name: p.Name})

	case http.MethodDelete:
		if err := s.svc.DeletePolicy(r.Context(), callerIdentity(r), id); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLeaseRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req namedReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		lr, err := s.svc.CreateLeaseRequest(r.Context(), callerIdentity(r), req.UUID, req.Name, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, namedResp{UUID: lr.UUID, ProjectID: lr.ProjectID, Name: lr.Name})

	case http.MethodGet:
		lrs, err := s.svc.ListLeaseRequests(r.Context(), callerIdentity(r), r.URL.Query().Get("view"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]namedResp, 0, len(lrs))
		for _, lr := range lrs {
			out = append(out, namedResp{UUID: lr.UUID, ProjectID: lr.ProjectID, Name: lr.Name})
		}
		writeJSON(w, http.StatusOK, map[string]any{"lease_requests": out})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLeaseRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/lease-requests/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		lr, err := s.svc.GetLeaseRequest(r.Context(), id)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, namedResp{UUID: lr.UUID, ProjectID: lr.ProjectID, Name: lr.Name})

	case http.MethodPatch:
		var req namedReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		lr, err := s.svc.UpdateLeaseRequest(r.Context(), callerIdentity(r), id, &req.Name, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, namedResp{UUID: lr.UUID, ProjectID: lr.ProjectID, Name: lr.Name})

	case http.MethodDelete:
		if err := s.svc.DeleteLeaseRequest(r.Context(), callerIdentity(r), id); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type policyNodeReq struct {
	NodeUUID   string `json:"node_uuid"`
	PolicyUUID string `json:"policy_uuid"`
}

type policyNodeResp struct {
	NodeUUID    string `json:"node_uuid"`
	PolicyUUID  string `json:"policy_uuid"`
	RequestUUID string `json:"request_uuid,omitempty"`
}

func (s *Server) handlePolicyNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req policyNodeReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		n, err := s.svc.CreatePolicyNode(r.Context(), callerIdentity(r), req.NodeUUID, req.PolicyUUID, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, policyNodeResp{NodeUUID: n.NodeUUID, PolicyUUID: n.PolicyUUID, RequestUUID: n.RequestUUID})

	case http.MethodGet:
		ns, err := s.svc.ListPolicyNodes(r.Context(), r.URL.Query().Get("policy_uuid"), r.URL.Query().Get("request_uuid"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]policyNodeResp, 0, len(ns))
		for _, n := range ns {
			out = append(out, policyNodeResp{NodeUUID: n.NodeUUID, PolicyUUID: n.PolicyUUID, RequestUUID: n.RequestUUID})
		}
		writeJSON(w, http.StatusOK, map[string]any{"policy_nodes": out})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePolicyNode(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policy-nodes/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		if parts[1] != "match" || r.Method != http.MethodPost {
			writeErr(w, http.StatusNotFound, "unknown action")
			return
		}
		var req struct {
			RequestUUID string `json:"request_uuid"`
		}
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		n, err := s.svc.MatchPolicyNode(r.Context(), callerIdentity(r), id, req.RequestUUID, time.Time{})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policyNodeResp{NodeUUID: n.NodeUUID, PolicyUUID: n.PolicyUUID, RequestUUID: n.RequestUUID})
		return
	}

	switch r.Method {
	case http.MethodGet:
		n, err := s.svc.GetPolicyNode(r.Context(), id)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policyNodeResp{NodeUUID: n.NodeUUID, PolicyUUID: n.PolicyUUID, RequestUUID: n.RequestUUID})

	case http.MethodDelete:
		if err := s.svc.DeletePolicyNode(r.Context(), callerIdentity(r), id); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- helpers ---

func parseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := parseTime(start, "start_time")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := parseTime(end, "end_time")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New(field + " required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", raw)
	}
	if err != nil {
		return time.Time{}, errors.New(field + " must be an RFC3339 timestamp")
	}
	return t, nil
}

// writeDomainErr maps the failure taxonomy onto HTTP statuses without
// obscuring the underlying message.
func writeDomainErr(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, errdefs.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, errdefs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errdefs.ErrWindowConflict),
		errors.Is(err, errdefs.ErrOfferNotAvailable),
		errors.Is(err, errdefs.ErrInvalidTransition),
		errors.Is(err, errdefs.ErrReferentialConflict),
		errors.Is(err, errdefs.ErrDuplicateEntity):
		status = http.StatusConflict
	case errors.Is(err, errdefs.ErrStoreBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errdefs.ErrAmbiguousReference),
		errors.Is(err, errdefs.ErrInvalidFilter),
		errors.Is(err, errdefs.ErrInvalidTimeRange),
		errors.Is(err, errdefs.ErrWindowOutOfBounds),
		errors.Is(err, errdefs.ErrInvalidArgument),
		errors.Is(err, timespan.ErrInvalidWindow):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	writeErr(w, status, err.Error())
}

func readPatch(r *http.Request) (storage.Patch, error) {
	var body struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := readJSON(r, &body); err != nil {
		return storage.Patch{}, err
	}
	p := storage.Patch{Name: body.Name}
	if body.Status != nil {
		st := model.Status(*body.Status)
		p.Status = &st
	}
	return p, nil
}

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
