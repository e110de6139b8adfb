package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"coursecast/internal/httpx"
)

// remoteStore talks to a shared claim datastore over its HTTP RPC
// surface. All atomicity lives server-side; this client only maps the
// wire contract onto the Store interface.
type remoteStore struct {
	base   string
	apiKey string
	client *httpx.Client
}

// OpenRemote returns a Store backed by the remote datastore at base.
func OpenRemote(base, apiKey string, client *httpx.Client) (Store, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("claims: remote base URL is required")
	}
	if client == nil {
		return nil, errors.New("claims: remote store needs an http client")
	}
	return &remoteStore{base: base, apiKey: apiKey, client: client}, nil
}

func (s *remoteStore) Close() error { return nil }

type claimWire struct {
	Domain      string `json:"domain"`
	CourseID    int64  `json:"course_id"`
	CourseCode  string `json:"course_code,omitempty"`
	CourseName  string `json:"course_name,omitempty"`
	SectionID   int64  `json:"section_id"`
	SectionName string `json:"section_name,omitempty"`
	TermKey     string `json:"term_key"`
	TermLabel   string `json:"term_label,omitempty"`
	LinkURL     string `json:"link_url,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

type claimResultWire struct {
	ID            string `json:"id"`
	AlreadyExists bool   `json:"already_exists"`
	Status        string `json:"status"`
}

func (s *remoteStore) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	u := req.Unit
	payload := claimWire{
		Domain:      u.Domain,
		CourseID:    u.CourseID,
		CourseCode:  req.CourseCode,
		CourseName:  req.CourseName,
		SectionID:   u.Section.Canonical(),
		SectionName: req.SectionName,
		TermKey:     u.TermKey,
		TermLabel:   req.TermLabel,
		LinkURL:     req.LinkURL,
		Sender:      req.Sender,
	}

	var out claimResultWire
	if err := s.post(ctx, "/claims", payload, &out); err != nil {
		return ClaimResult{}, fmt.Errorf("claim %s: %w", u, err)
	}
	return ClaimResult{ID: out.ID, AlreadyExists: out.AlreadyExists, Status: Status(out.Status)}, nil
}

func (s *remoteStore) MarkSent(ctx context.Context, id string, meta SentMeta) error {
	payload := struct {
		LinkURL        string `json:"link_url,omitempty"`
		RecipientCount int    `json:"recipient_count"`
		BatchCount     int    `json:"batch_count"`
	}{meta.LinkURL, meta.RecipientCount, meta.BatchCount}

	err := s.post(ctx, "/claims/"+url.PathEscape(id)+"/sent", payload, nil)
	if err != nil {
		if httpx.StatusOf(err) == http.StatusConflict {
			return fmt.Errorf("claims: mark sent %s: %w", id, ErrNotPending)
		}
		if httpx.StatusOf(err) == http.StatusNotFound {
			return fmt.Errorf("claims: mark sent %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("claims: mark sent %s: %w", id, err)
	}
	return nil
}

func (s *remoteStore) Release(ctx context.Context, id string) error {
	_, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.base+"/claims/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}
		s.auth(req)
		return req, nil
	})
	if err != nil {
		// Releasing an already-gone or already-sent claim is a no-op.
		switch httpx.StatusOf(err) {
		case http.StatusNotFound, http.StatusConflict:
			return nil
		}
		return fmt.Errorf("claims: release %s: %w", id, err)
	}
	return nil
}

func (s *remoteStore) ListSent(ctx context.Context, domain string, courseID int64, termKey string) ([]SendUnit, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("course_id", strconv.FormatInt(courseID, 10))
	q.Set("term_key", termKey)

	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/sends?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		s.auth(req)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("claims: query sends: %w", err)
	}

	var rows []struct {
		SectionID int64 `json:"section_id"`
	}
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("claims: decode sends: %w", err)
	}

	units := make([]SendUnit, 0, len(rows))
	for _, r := range rows {
		ref := Section(r.SectionID)
		if r.SectionID == 0 {
			ref = WholeCourse()
		}
		units = append(units, SendUnit{Domain: domain, CourseID: courseID, Section: ref, TermKey: termKey})
	}
	return units, nil
}

func (s *remoteStore) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		s.auth(req)
		return req, nil
	})
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *remoteStore) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
