package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"esence/application/ports"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"

	apperrors "esence/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	self = valueobjects.MustParseDID("did:wba:localhost%3A7777:self")
	peer = valueobjects.MustParseDID("did:wba:peer.example.com:peer")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_Threads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := entities.NewMessage(valueobjects.NewThreadID(), peer, self, "hello", entities.ThreadMessageBody{}, now)
	th := aggregates.NewInboundThread(msg, "general", now)
	require.NoError(t, s.SaveThread(ctx, th.ToRecord()))

	// A corrupt file is skipped
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ThreadsDir, "broken.json"), []byte("{"), 0o644))

	records, err := s.LoadThreads(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, th.ID(), records[0].ID)
	assert.Equal(t, "hello", records[0].Messages[0].Content)
}

func TestStore_CorrectionsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, final := range []string{"a", "b", "c"} {
		err := s.AppendCorrection(ctx, entities.Correction{
			ThreadID:          valueobjects.NewThreadID(),
			OriginalCandidate: "x",
			FinalContent:      final,
			WasEdited:         true,
			EditDistance:      i + 1,
		})
		require.NoError(t, err)
	}

	// A torn trailing line is ignored
	f, err := os.OpenFile(s.Path(CorrectionsFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"thread_id":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	corrections, err := s.LoadCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, corrections, 3)
	assert.Equal(t, "a", corrections[0].FinalContent)
	assert.Equal(t, "c", corrections[2].FinalContent)

	// Appending after a torn line starts a fresh line
	require.NoError(t, s.AppendCorrection(ctx, entities.Correction{ThreadID: valueobjects.NewThreadID(), FinalContent: "d"}))
	corrections, err = s.LoadCorrections(ctx)
	require.NoError(t, err)
	assert.Len(t, corrections, 4)
}

func TestStore_Budget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadBudget(ctx)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	b := entities.NewBudget(1000, 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b.Admit(peer.String(), 7, false)
	require.NoError(t, s.SaveBudget(ctx, b))

	loaded, err := s.LoadBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.UsedUnits)
	assert.Equal(t, int64(100), loaded.LimitUnits)
	assert.Equal(t, int64(7), loaded.PerPeerUsage[peer.String()])
}

func TestStore_PeersPatternsSettingsContext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	peers, err := s.LoadPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	require.NoError(t, s.SavePeers(ctx, []entities.Peer{entities.NewPeer(peer, 0.5, "manual", time.Now())}))
	peers, err = s.LoadPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, peer, peers[0].DID)

	require.NoError(t, s.SavePatterns(ctx, []entities.Pattern{{Description: "short replies", Confidence: 0.7}}))
	patterns, err := s.LoadPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.MoodModerate, settings.Mood)
	require.NoError(t, s.SaveSettings(ctx, entities.Settings{Mood: valueobjects.MoodAvailable, AutoApprove: true}))
	settings, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.MoodAvailable, settings.Mood)
	assert.True(t, settings.AutoApprove)

	text, err := s.ReadContext(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)
	require.NoError(t, s.WriteContext(ctx, "I live in Lisbon."))
	text, err = s.ReadContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "I live in Lisbon.", text)
}

func TestStore_WriteFailureIsTyped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// A directory where the file should be makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(PeersFile), "x"), 0o755))

	err := s.SavePeers(ctx, nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsStorageWriteFailed(err))
}
