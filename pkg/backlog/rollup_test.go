package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setStatus(t *testing.T, doc *Backlog, id string, s Status) *Backlog {
	t.Helper()
	updated, err := doc.WithStatus(id, s)
	require.NoError(t, err)
	return updated
}

func TestDerivedStatus(t *testing.T) {
	doc := testDoc(t)

	// All Planned.
	derived, err := doc.DerivedStatus("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, derived)

	// One active subtask bubbles up.
	doc2 := setStatus(t, doc, "P1.M1.T1.S1", StatusResearching)
	derived, err = doc2.DerivedStatus("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusResearching, derived)

	// Implementing wins over Researching.
	doc3 := setStatus(t, doc2, "P1.M1.T1.S2", StatusImplementing)
	derived, err = doc3.DerivedStatus("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusImplementing, derived)

	// A failure dominates active work.
	doc4 := setStatus(t, doc3, "P1.M1.T1.S1", StatusFailed)
	derived, err = doc4.DerivedStatus("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, derived)

	// All terminal-successful reads Complete.
	doc5 := setStatus(t, doc, "P1.M1.T1.S1", StatusComplete)
	doc5 = setStatus(t, doc5, "P1.M1.T1.S2", StatusObsolete)
	derived, err = doc5.DerivedStatus("P1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, derived)

	// P2 is untouched by P1's progress.
	derived, err = doc5.DerivedStatus("P2")
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, derived)
}

func TestDerivedStatusLevels(t *testing.T) {
	doc := setStatus(t, testDoc(t), "P1.M1.T1.S1", StatusImplementing)

	for _, id := range []string{"P1", "P1.M1", "P1.M1.T1"} {
		derived, err := doc.DerivedStatus(id)
		require.NoError(t, err)
		assert.Equal(t, StatusImplementing, derived, "derived status of %s", id)
	}

	// A subtask derives as itself.
	derived, err := doc.DerivedStatus("P1.M1.T1.S1")
	require.NoError(t, err)
	assert.Equal(t, StatusImplementing, derived)
}

func TestDerivedStatusUnknownID(t *testing.T) {
	doc := testDoc(t)
	_, err := doc.DerivedStatus("P7")
	require.Error(t, err)
}

func TestDerivedStatusDoesNotMutate(t *testing.T) {
	doc := setStatus(t, testDoc(t), "P1.M1.T1.S1", StatusComplete)

	_, err := doc.DerivedStatus("P1")
	require.NoError(t, err)

	// Stored container status is untouched by derivation.
	node, ok := doc.Find("P1")
	require.True(t, ok)
	assert.Equal(t, StatusPlanned, node.NodeStatus())
}

func TestStats(t *testing.T) {
	doc := setStatus(t, testDoc(t), "P1.M1.T1.S1", StatusComplete)

	stats := doc.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusComplete])
	assert.Equal(t, 2, stats.ByStatus[StatusPlanned])
	assert.Greater(t, stats.ScopeTokens, 0)
}
