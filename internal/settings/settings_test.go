package settings

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreStringsAndBlobs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := st.GetString(ctx, KeySSID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SetString(ctx, KeySSID, "home"))
	require.NoError(t, st.SetString(ctx, KeySSID, "office"))
	got, err := st.GetString(ctx, KeySSID)
	require.NoError(t, err)
	assert.Equal(t, "office", got)

	blob := []byte{0x47, 0x49, 0x46, 0x00, 0xff}
	require.NoError(t, st.SetBlob(ctx, KeyBackground, blob))
	b, err := st.GetBlob(ctx, KeyBackground)
	require.NoError(t, err)
	assert.Equal(t, blob, b)
}

func TestSQLiteStoreCaps(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	assert.ErrorIs(t, st.SetString(ctx, KeySSID, strings.Repeat("s", MaxSSID+1)), ErrTooLarge)
	assert.ErrorIs(t, st.SetString(ctx, KeyPass, strings.Repeat("p", MaxPass+1)), ErrTooLarge)
	assert.ErrorIs(t, st.SetString(ctx, KeyServerURL, strings.Repeat("u", MaxServerURL+1)), ErrTooLarge)
	assert.ErrorIs(t, st.SetBlob(ctx, KeyBackground, make([]byte, MaxBackground+1)), ErrTooLarge)

	assert.NoError(t, st.SetString(ctx, KeySSID, strings.Repeat("s", MaxSSID)))
}

func TestLoadMissingFieldsAreEmpty(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.SetString(ctx, KeySSID, "home"))

	s := Load(ctx, st)
	assert.Equal(t, "home", s.SSID)
	assert.Empty(t, s.Pass)
	assert.Empty(t, s.ServerURL)
	assert.Empty(t, s.Background.Data)
	assert.False(t, s.Valid())
}

func TestValid(t *testing.T) {
	full := Settings{SSID: "a", Pass: "b", ServerURL: "ws://c/"}
	assert.True(t, full.Valid())

	for _, clear := range []func(*Settings){
		func(s *Settings) { s.SSID = "" },
		func(s *Settings) { s.Pass = "" },
		func(s *Settings) { s.ServerURL = "" },
	} {
		s := full
		clear(&s)
		assert.False(t, s.Valid())
	}
}

func TestBackgroundRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	gif := bytes.Repeat([]byte("GIF89a-frame"), 5000)

	sh := Lend(Settings{}, st)
	require.NoError(t, sh.BeginBackground())
	for off := 0; off < len(gif); off += 509 {
		end := min(off+509, len(gif))
		require.NoError(t, sh.AppendBackground(gif[off:end]))
	}
	require.NoError(t, sh.FinishBackground())
	s := sh.Return()
	require.True(t, s.Background.Updated)

	require.NoError(t, SaveBackground(ctx, st, &s))
	assert.False(t, s.Background.Updated)

	reread := Load(ctx, st)
	assert.Equal(t, gif, reread.Background.Data)
}

func TestSaveBackgroundSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	s := Settings{Background: Background{Data: []byte("x"), Updated: false}}
	require.NoError(t, SaveBackground(ctx, st, &s))
	_, err := st.GetBlob(ctx, KeyBackground)
	assert.ErrorIs(t, err, ErrNotFound)

	s = Settings{Background: Background{Updated: true}}
	require.NoError(t, SaveBackground(ctx, st, &s))
	_, err = st.GetBlob(ctx, KeyBackground)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSharedWritesThroughAndReleases(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	sh := Lend(Settings{SSID: "old"}, st)
	require.NoError(t, sh.SetSSID(ctx, "home"))
	require.NoError(t, sh.SetPass(ctx, "secret"))
	require.NoError(t, sh.SetServerURL(ctx, "wss://echo.example/ws/"))
	assert.ErrorIs(t, sh.SetPass(ctx, strings.Repeat("p", MaxPass+1)), ErrTooLarge)

	snap, err := sh.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "home", snap.SSID)

	s := sh.Return()
	assert.True(t, s.Valid())
	assert.Equal(t, "secret", s.Pass)

	assert.ErrorIs(t, sh.SetSSID(ctx, "late"), ErrReleased)
	assert.ErrorIs(t, sh.AppendBackground([]byte{1}), ErrReleased)
	_, err = sh.Snapshot()
	assert.ErrorIs(t, err, ErrReleased)

	persisted := Load(ctx, st)
	assert.Equal(t, "home", persisted.SSID)
	assert.Equal(t, "wss://echo.example/ws/", persisted.ServerURL)
}

func TestAppendBackgroundCap(t *testing.T) {
	sh := Lend(Settings{}, openTestStore(t))
	require.NoError(t, sh.AppendBackground(make([]byte, MaxBackground)))
	assert.ErrorIs(t, sh.AppendBackground([]byte{0}), ErrTooLarge)
}
