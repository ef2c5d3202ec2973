package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prpipe/pkg/utils"
)

func TestListLineageOrder(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	first, err := store.Create(ctx, "prd A\n")
	require.NoError(t, err)
	second, err := store.Create(ctx, "prd B\n")
	require.NoError(t, err)
	delta, err := store.CreateDelta(ctx, second, "prd B revised\n")
	require.NoError(t, err)
	third, err := store.Create(ctx, "prd C\n")
	require.NoError(t, err)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 4)

	assert.Equal(t, first.ID, infos[0].ID)
	assert.Equal(t, second.ID, infos[1].ID)
	assert.Equal(t, delta.ID, infos[2].ID)
	assert.Equal(t, third.ID, infos[3].ID)

	assert.False(t, infos[1].IsDelta)
	assert.True(t, infos[2].IsDelta)
	assert.Equal(t, second.ID, infos[2].ParentID)
	assert.Equal(t, 1, infos[2].Seq)
	assert.Equal(t, 3, infos[3].Seq)
}

func TestListSkipsNonSessions(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	st, err := store.Create(ctx, "prd A\n")
	require.NoError(t, err)

	planDir := store.PlanDir()
	require.NoError(t, os.MkdirAll(filepath.Join(planDir, "notes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(planDir, "readme.md"), []byte("hi"), 0644))

	half := filepath.Join(planDir, "002_abcdefabcdef")
	require.NoError(t, os.MkdirAll(half, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(half, creatingMarker), nil, 0644))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, st.ID, infos[0].ID)
}

func TestListEmptyRoot(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	infos, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFindLatest(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	_, err := store.FindLatest(ctx)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Create(ctx, "prd A\n")
	require.NoError(t, err)
	second, err := store.Create(ctx, "prd B\n")
	require.NoError(t, err)

	latest, err := store.FindLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	// A delta of the newest session becomes the newest lineage entry.
	delta, err := store.CreateDelta(ctx, second, "prd B revised\n")
	require.NoError(t, err)

	latest, err = store.FindLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, delta.ID, latest.ID)
}

func TestFindByContentHash(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	_, err := store.Create(ctx, "prd A\n")
	require.NoError(t, err)
	_, err = store.Create(ctx, "prd B\n")
	require.NoError(t, err)
	reused, err := store.Create(ctx, "prd A\n")
	require.NoError(t, err)

	// Newest match wins when a PRD was planned more than once.
	info, err := store.FindByContentHash(ctx, utils.ShortHash("prd A\n"))
	require.NoError(t, err)
	assert.Equal(t, reused.ID, info.ID)

	// Full digests are accepted too.
	info, err = store.FindByContentHash(ctx, utils.ContentHash("prd B\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, info.Seq)

	_, err = store.FindByContentHash(ctx, utils.ShortHash("never planned\n"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
