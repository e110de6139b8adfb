package claims

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := OpenSQLite(SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "claims.db"),
		BusyTimeout: 5 * time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func unit(courseID int64, section SectionRef) SendUnit {
	return SendUnit{
		Domain:   "school.instructure.com",
		CourseID: courseID,
		Section:  section,
		TermKey:  "spring-2026",
	}
}

func TestClaimFirstWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r1, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	assert.False(t, r1.AlreadyExists)
	assert.Equal(t, StatusPending, r1.Status)
	assert.NotEmpty(t, r1.ID)

	r2, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	assert.True(t, r2.AlreadyExists)
	assert.Equal(t, r1.ID, r2.ID, "loser must see the winner's row")
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	const callers = 32
	results := make([]ClaimResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = st.Claim(ctx, ClaimRequest{Unit: unit(42, Section(99))})
		}(i)
	}
	wg.Wait()

	winners := 0
	var winnerID string
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if !results[i].AlreadyExists {
			winners++
			winnerID = results[i].ID
		}
	}
	require.Equal(t, 1, winners, "exactly one caller may win the claim")
	for i := 0; i < callers; i++ {
		assert.Equal(t, winnerID, results[i].ID, "all callers must converge on one row")
	}
}

func TestUnitsAreIndependent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r1, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	r2, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(20))})
	require.NoError(t, err)
	r3, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, WholeCourse())})
	require.NoError(t, err)

	assert.False(t, r1.AlreadyExists)
	assert.False(t, r2.AlreadyExists)
	assert.False(t, r3.AlreadyExists)
}

func TestReleaseMakesUnitClaimable(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r1, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	require.NoError(t, st.Release(ctx, r1.ID))

	r2, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	assert.False(t, r2.AlreadyExists, "released unit must be claimable again")
	assert.NotEqual(t, r1.ID, r2.ID, "re-claim creates a fresh row")
}

func TestReleaseNeverDeletesSent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, r.ID, SentMeta{RecipientCount: 150, BatchCount: 2}))

	// Releasing a sent claim is a no-op.
	require.NoError(t, st.Release(ctx, r.ID))

	sent, err := st.ListSent(ctx, "school.instructure.com", 7, "spring-2026")
	require.NoError(t, err)
	require.Len(t, sent, 1)

	r2, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	assert.True(t, r2.AlreadyExists, "sent unit must stay claimed")
	assert.Equal(t, StatusSent, r2.Status)
}

func TestMarkSentRequiresPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.MarkSent(ctx, "01J0000000000000000000000X", SentMeta{})
	assert.ErrorIs(t, err, ErrNotPending)

	r, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, r.ID, SentMeta{RecipientCount: 1, BatchCount: 1}))

	// Double mark is rejected, never silently re-marked.
	err = st.MarkSent(ctx, r.ID, SentMeta{RecipientCount: 2, BatchCount: 2})
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestListSentScopesAndSectionRef(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, a.ID, SentMeta{}))

	b, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, WholeCourse())})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, b.ID, SentMeta{}))

	// Pending rows and other courses never show up.
	_, err = st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(20))})
	require.NoError(t, err)
	c, err := st.Claim(ctx, ClaimRequest{Unit: unit(8, Section(10))})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, c.ID, SentMeta{}))

	sent, err := st.ListSent(ctx, "school.instructure.com", 7, "spring-2026")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.True(t, sent[0].Section.Wide, "section id 0 must round-trip as course-wide")
	assert.Equal(t, int64(10), sent[1].Section.ID)
}

func TestReleaseStale(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	sent, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(20))})
	require.NoError(t, err)
	require.NoError(t, st.MarkSent(ctx, sent.ID, SentMeta{}))

	sw, ok := st.(Sweeper)
	require.True(t, ok)

	// Nothing is older than an hour yet.
	n, err := sw.ReleaseStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero TTL every pending claim is stale; sent rows survive.
	n, err = sw.ReleaseStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := st.Claim(ctx, ClaimRequest{Unit: unit(7, Section(10))})
	require.NoError(t, err)
	assert.False(t, r.AlreadyExists, "swept unit must be claimable again")
}
