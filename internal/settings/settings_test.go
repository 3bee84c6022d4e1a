package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	r := Defaults()
	r.Hostname = "backdoor"
	r.Flags = FlagNotifyEnabled
	r.Ntfy = Ntfy{
		URL:      "https://ntfy.example.com",
		Topic:    "catflap",
		Username: "flap",
		Password: "secret",
	}
	r.Credentials[0] = Credential{
		Name:     "Jones",
		Topic:    "catflap-jones",
		Facility: 10,
		Card:     500,
		Flags:    CredentialEntry | CredentialExit,
	}
	r.Credentials[1] = Credential{
		Name:     "Ripley",
		Facility: 10,
		Card:     501,
		Flags:    CredentialEntry,
	}
	return r
}

func TestRecordRoundTrip(t *testing.T) {
	orig := testRecord()
	buf := orig.Marshal()
	require.Len(t, buf, RecordSize)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestRecordStringTruncation(t *testing.T) {
	r := Defaults()
	r.Credentials[0].Name = "a name well over the twenty byte field"
	got, err := Unmarshal(r.Marshal())
	require.NoError(t, err)
	assert.Equal(t, "a name well over th", got.Credentials[0].Name)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	buf := testRecord().Marshal()
	buf[0] ^= 0xff
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshalRejectsBadCRC(t *testing.T) {
	buf := testRecord().Marshal()
	buf[100] ^= 0x01
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = Unmarshal(make([]byte, RecordSize-1))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.bin")
	logger := zerolog.Nop()
	return NewStore(&FileBackend{Path: path}, &logger), path
}

func TestStoreHealsMissingRecord(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Load())

	assert.Equal(t, *Defaults(), store.Record())

	// The defaults were persisted immediately.
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestStoreHealsCorruptRecord(t *testing.T) {
	store, path := newTestStore(t)
	rec := testRecord()
	require.NoError(t, store.Save(rec))

	// Flip a byte in the stored image.
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	buf[500] ^= 0xff
	require.NoError(t, os.WriteFile(path, buf, 0o600))

	require.NoError(t, store.Load())
	assert.Equal(t, *Defaults(), store.Record(), "corrupt record resets to defaults")
}

func TestStoreSaveLoad(t *testing.T) {
	store, _ := newTestStore(t)
	rec := testRecord()
	require.NoError(t, store.Save(rec))

	require.NoError(t, store.Load())
	assert.Equal(t, *rec, store.Record())
}
