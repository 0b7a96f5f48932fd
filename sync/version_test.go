package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionToken_MultiPart(t *testing.T) {
	vr, err := ParseVersionToken("$azhash$7$1$42$deadbeef")
	require.NoError(t, err)
	assert.Equal(t, VersionAZL, vr.Type)
	assert.Equal(t, "7.1.42", vr.Version)
	assert.Equal(t, "deadbeef", vr.Hash)
	assert.Equal(t, "$azhash$7$1$42$deadbeef", vr.Raw)
}

func TestParseVersionToken_Single(t *testing.T) {
	vr, err := ParseVersionToken("$cvhash$118$c0ffee")
	require.NoError(t, err)
	assert.Equal(t, VersionCV, vr.Type)
	assert.Equal(t, "118", vr.Version)
	assert.Equal(t, "c0ffee", vr.Hash)
}

func TestParseVersionToken_Errors(t *testing.T) {
	_, err := ParseVersionToken("$nosuchhash$1$abc")
	assert.ErrorIs(t, err, ErrUnknownVersionType)

	_, err = ParseVersionToken("$cvhash$1")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = ParseVersionToken("cvhash$1$abc$")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestParseVersionTokens_SkipsBadTokens(t *testing.T) {
	results, err := ParseVersionTokens([]string{
		"$azhash$7$1$42$aa",
		"some-gate-message",
		"$unknown$1$bb",
		"$pichash$9$cc",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVersionType)
	require.Len(t, results, 2)
	assert.Equal(t, VersionAZL, results[0].Type)
	assert.Equal(t, VersionPIC, results[1].Type)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.10", "1.2.9", 1},
		{"1.2.9", "1.2.10", -1},
		{"7.1.42", "7.1.42", 0},
		{"1.2", "1.2.0", -1},
		{"10", "9", 1},
	}
	for _, tc := range tests {
		got, err := CompareVersions(tc.a, tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s vs %s", tc.a, tc.b)
	}

	_, err := CompareVersions("1.x", "1.0")
	assert.Error(t, err)
}

func TestIsNewerVersion_AbsentLocalIsOlder(t *testing.T) {
	newer, err := IsNewerVersion("0", "")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = IsNewerVersion("1.2.9", "1.2.10")
	require.NoError(t, err)
	assert.False(t, newer)
}

func TestVersionTypeLookups(t *testing.T) {
	vt, ok := VersionTypeFromHashName("l2dhash")
	require.True(t, ok)
	assert.Equal(t, VersionL2D, vt)
	assert.Equal(t, "version-live2d.txt", vt.VersionFilename())
	assert.Equal(t, "hashes-live2d.csv", vt.HashesFilename())
	assert.Equal(t, "l2d", vt.String())

	vt, ok = VersionTypeFromName("azl")
	require.True(t, ok)
	assert.Equal(t, "version.txt", vt.VersionFilename())
	assert.Equal(t, "hashes.csv", vt.HashesFilename())
	assert.True(t, vt.MultiPart())

	_, ok = VersionTypeFromHashName("azl")
	assert.False(t, ok)
	assert.Len(t, VersionTypes, 10)
}

func TestClientLookups(t *testing.T) {
	c, ok := ClientFromPackageName("com.YoStarJP.AzurLane")
	require.True(t, ok)
	assert.Equal(t, ClientJP, c)

	_, ok = ClientFromPackageName("")
	assert.False(t, ok, "CN has no package name and must not match an empty one")

	c, ok = ClientFromName("tw")
	require.True(t, ok)
	assert.Equal(t, ClientTW, c)
}

func TestCompareType_Text(t *testing.T) {
	b, err := CompareChanged.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Changed", string(b))

	var ct CompareType
	require.NoError(t, ct.UnmarshalText([]byte("Deleted")))
	assert.Equal(t, CompareDeleted, ct)
	assert.Error(t, ct.UnmarshalText([]byte("Moved")))
}
