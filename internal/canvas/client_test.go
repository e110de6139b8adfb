package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/internal/httpx"
	"coursecast/internal/token"
	"coursecast/pkg/logx"
)

func testPolicy() httpx.Policy {
	return httpx.Policy{
		Timeout:       2 * time.Second,
		MaxRetries:    1,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, obs *token.Observer) *Client {
	t.Helper()
	hc := httpx.New(srv.Client(), testPolicy(), nil, logx.Nop())
	c, err := New(Config{BaseURL: srv.URL, CacheTTL: time.Minute}, hc, obs, logx.Nop())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNextPageURL(t *testing.T) {
	h := http.Header{}
	h.Set("Link", `<https://x.test/api/v1/courses?page=2&per_page=100>; rel="next", <https://x.test/api/v1/courses?page=1>; rel="first"`)
	assert.Equal(t, "https://x.test/api/v1/courses?page=2&per_page=100", nextPageURL(h))

	h.Set("Link", `<https://x.test/api/v1/courses?page=1>; rel="first", <https://x.test/api/v1/courses?page=3>; rel="last"`)
	assert.Empty(t, nextPageURL(h))

	assert.Empty(t, nextPageURL(http.Header{}))
}

func TestListCoursesPaginatesAndFilters(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/courses", r.URL.Path)

		switch r.URL.Query().Get("page") {
		case "", "1":
			require.Equal(t, "active", r.URL.Query().Get("enrollment_state"))
			require.Equal(t, "term", r.URL.Query().Get("include[]"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next"`, srv.URL))
			writeJSON(w, []Course{
				{ID: 1, Name: "Intro", Term: &EnrollTerm{Name: "Spring 2026"}},
				{ID: 2, Name: "Old", Term: &EnrollTerm{Name: "Fall 2025"}},
			})
		default:
			start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
			writeJSON(w, []Course{
				{ID: 3, Name: "Lab", Term: &EnrollTerm{Name: "Default Term"}, StartAt: &start},
				{ID: 4, Name: "Dateless", Term: &EnrollTerm{Name: "Default Term"}},
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	courses, err := c.ListCourses(context.Background(), "Spring 2026")
	require.NoError(t, err)

	var ids []int64
	for _, co := range courses {
		ids = append(ids, co.ID)
	}
	// Course 1 matches by term label, course 3 by the date heuristic;
	// course 2 is the wrong term and course 4 has nothing to match on.
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestListCoursesUnparseableFilterPassesAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []Course{
			{ID: 1, Term: &EnrollTerm{Name: "Spring 2026"}},
			{ID: 2, Term: &EnrollTerm{Name: "Fall 2020"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	courses, err := c.ListCourses(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Len(t, courses, 2)
}

func TestListCoursesCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, []Course{{ID: 1, Term: &EnrollTerm{Name: "Spring 2026"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.ListCourses(context.Background(), "Spring 2026")
	require.NoError(t, err)
	_, err = c.ListCourses(context.Background(), "Spring 2026")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestListSectionsEmptyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/courses/7/sections", r.URL.Path)
		writeJSON(w, []Section{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	sections, err := c.ListSections(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestListActiveStudentIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users/self/profile":
			writeJSON(w, Profile{ID: 500, Name: "Me"})
		case "/api/v1/courses/7/users":
			require.Equal(t, "student", r.URL.Query().Get("enrollment_type[]"))
			require.Equal(t, "active", r.URL.Query().Get("enrollment_state[]"))
			writeJSON(w, []User{
				{ID: 101, Name: "Alice A"},
				{ID: 500, Name: "Me"},            // caller
				{ID: 102, Name: "Test Student"},  // placeholder
				{ID: 101, Name: "Alice A"},       // cross-listed duplicate
				{ID: 103, Name: "Bob B"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ids, err := c.ListActiveStudentIDs(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 103}, ids)
}

func TestResolveRecipient(t *testing.T) {
	var matches []User
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/search/recipients", r.URL.Path)
		require.Equal(t, "course_7", r.URL.Query().Get("context"))
		writeJSON(w, matches)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	matches = []User{{ID: 1, FullName: "Jane Roe"}}
	res, err := c.ResolveRecipient(ctx, 7, "jane")
	require.NoError(t, err)
	require.NotNil(t, res.Chosen)
	assert.EqualValues(t, 1, res.Chosen.ID)

	// Multiple hits with one exact (case-insensitive) full-name match.
	matches = []User{{ID: 1, FullName: "Jane Roe"}, {ID: 2, FullName: "Jane Roeberts"}}
	res, err = c.ResolveRecipient(ctx, 7, "JANE ROE")
	require.NoError(t, err)
	require.NotNil(t, res.Chosen)
	assert.EqualValues(t, 1, res.Chosen.ID)

	// Truly ambiguous: no chosen, candidates surfaced.
	matches = []User{{ID: 1, FullName: "Jane Roe"}, {ID: 2, FullName: "Jane Roe"}}
	res, err = c.ResolveRecipient(ctx, 7, "jane")
	require.NoError(t, err)
	assert.Nil(t, res.Chosen)
	assert.Len(t, res.Candidates, 2)

	// Candidate list is capped at ten.
	matches = nil
	for i := 1; i <= 15; i++ {
		matches = append(matches, User{ID: int64(i), FullName: fmt.Sprintf("Jane %d", i)})
	}
	res, err = c.ResolveRecipient(ctx, 7, "jane")
	require.NoError(t, err)
	assert.Nil(t, res.Chosen)
	assert.Len(t, res.Candidates, 10)
}

func TestSendBatchPreconditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("precondition failures must not reach the network")
	}))
	defer srv.Close()

	obs := token.NewObserver("", logx.Nop())
	c := newTestClient(t, srv, obs)

	over := make([]int64, c.BatchCap()+1)
	_, err := c.SendBatch(context.Background(), BatchRequest{CourseID: 7, RecipientIDs: over, Body: "hi"})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = c.SendBatch(context.Background(), BatchRequest{CourseID: 7, RecipientIDs: []int64{1}, Body: "hi"})
	assert.ErrorIs(t, err, ErrNoToken)

	obs.RecordHeader("tok")
	_, err = c.SendBatch(context.Background(), BatchRequest{CourseID: 7, RecipientIDs: []int64{1}})
	assert.ErrorContains(t, err, "empty message body")
}

func TestSendBatchPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/conversations", r.URL.Path)
		require.Equal(t, "tok-1", r.Header.Get("X-CSRF-Token"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, []string{"11", "12"}, r.MultipartForm.Value["recipients[]"])
		assert.Equal(t, "hello", r.FormValue("subject"))
		assert.Equal(t, "out of the blue", r.FormValue("body"))
		assert.Equal(t, "course_7", r.FormValue("context_code"))
		assert.Equal(t, "false", r.FormValue("group_conversation"))
		assert.Equal(t, "true", r.FormValue("bulk_message"))

		writeJSON(w, []map[string]any{{"id": 9001}})
	}))
	defer srv.Close()

	obs := token.NewObserver("", logx.Nop())
	obs.RecordHeader("tok-1")
	c := newTestClient(t, srv, obs)

	res, err := c.SendBatch(context.Background(), BatchRequest{
		CourseID:     7,
		RecipientIDs: []int64{11, 12},
		Subject:      "hello",
		Body:         "out of the blue",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients)
	assert.Equal(t, []int64{9001}, res.ConversationIDs)
}

func TestSendBatchStaleTokenRefresh(t *testing.T) {
	obs := token.NewObserver("", logx.Nop())
	obs.RecordHeader("stale")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			require.Equal(t, "stale", r.Header.Get("X-CSRF-Token"))
			// Rotate the token the way the platform does: via cookie.
			obs.Clear()
			obs.RecordCookie("fresh")
			http.Error(w, "invalid authenticity token", http.StatusUnprocessableEntity)
			return
		}
		require.Equal(t, "fresh", r.Header.Get("X-CSRF-Token"))
		writeJSON(w, []map[string]any{{"id": 1}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, obs)
	res, err := c.SendBatch(context.Background(), BatchRequest{
		CourseID: 7, RecipientIDs: []int64{1}, Subject: "s", Body: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recipients)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSendBatchStaleTokenTwiceFails(t *testing.T) {
	obs := token.NewObserver("", logx.Nop())
	obs.RecordHeader("always-stale")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid authenticity token", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, obs)
	_, err := c.SendBatch(context.Background(), BatchRequest{
		CourseID: 7, RecipientIDs: []int64{1}, Subject: "s", Body: "b",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, httpx.StatusOf(err))
	assert.EqualValues(t, 2, calls.Load(), "exactly one refresh retry")
}
