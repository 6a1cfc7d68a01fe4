package access

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensworks/aperture/internal/model"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	c, err := New(t.TempDir(), t.TempDir(), []byte("test-secret"))
	require.NoError(t, err)
	return c
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(t.TempDir(), t.TempDir(), nil)
	assert.Error(t, err)
}

func parseSigned(t *testing.T, signed string) (expires int64, signature string) {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	expires, err = strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	return expires, u.Query().Get("signature")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	c := testController(t)

	signed := c.Sign("photo-1", "medium-avif", 15*time.Minute)
	assert.True(t, strings.HasPrefix(signed, "/photos/photo-1/file/medium-avif?"))

	expires, sig := parseSigned(t, signed)
	assert.True(t, c.Verify("photo-1", "medium-avif", expires, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	c := testController(t)
	expires, sig := parseSigned(t, c.Sign("photo-1", "medium-avif", 15*time.Minute))

	// Different photo or variant than was signed.
	assert.False(t, c.Verify("photo-2", "medium-avif", expires, sig))
	assert.False(t, c.Verify("photo-1", "original", expires, sig))

	// Extended expiry without re-signing.
	assert.False(t, c.Verify("photo-1", "medium-avif", expires+3600, sig))

	// Flipped signature character.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, c.Verify("photo-1", "medium-avif", expires, string(flipped)))

	// Not even hex.
	assert.False(t, c.Verify("photo-1", "medium-avif", expires, "zz"))
}

func TestVerifyExpiry(t *testing.T) {
	c := testController(t)

	base := time.Now()
	c.now = func() time.Time { return base }

	expires, sig := parseSigned(t, c.Sign("photo-1", "original", time.Minute))
	assert.True(t, c.Verify("photo-1", "original", expires, sig))

	c.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	assert.False(t, c.Verify("photo-1", "original", expires, sig))
}

func TestCheckPolicy(t *testing.T) {
	c := testController(t)

	anon := model.Anonymous
	user := model.Requester{UserID: "u1"}
	admin := model.Requester{UserID: "a1", Admin: true}

	photo := func(level model.AccessLevel) *model.Photo {
		return &model.Photo{ID: "p", AccessLevel: level}
	}

	tests := []struct {
		name    string
		photo   *model.Photo
		variant string
		req     model.Requester
		allowed bool
	}{
		{"public anonymous", photo(model.AccessPublic), "medium-avif", anon, true},
		{"public anonymous original", photo(model.AccessPublic), "original", anon, true},
		{"authenticated anonymous", photo(model.AccessAuthenticated), "medium-avif", anon, false},
		{"authenticated user", photo(model.AccessAuthenticated), "medium-avif", user, true},
		{"authenticated user original", photo(model.AccessAuthenticated), "original", user, true},
		{"private user", photo(model.AccessPrivate), "medium-avif", user, false},
		{"private admin", photo(model.AccessPrivate), "medium-avif", admin, true},
		{"unknown level", photo(model.AccessLevel("wat")), "medium-avif", admin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Check(tt.photo, tt.variant, tt.req)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}

			// Idempotent: the same inputs always produce the same decision.
			assert.Equal(t, d, c.Check(tt.photo, tt.variant, tt.req))
		})
	}
}

func TestCheckFullResolutionTiers(t *testing.T) {
	c := testController(t)

	anon := model.Anonymous
	user := model.Requester{UserID: "u1"}

	authPhoto := &model.Photo{ID: "p", AccessLevel: model.AccessAuthenticated}
	privPhoto := &model.Photo{ID: "p", AccessLevel: model.AccessPrivate}

	// The full-resolution rule keys on the size tier, so every format token
	// of the xlarge tier and the bare original token all trip it.
	for _, variant := range []string{"original", "xlarge-avif", "xlarge-webp", "xlarge-jpeg"} {
		d := c.Check(authPhoto, variant, anon)
		assert.False(t, d.Allowed, variant)
		assert.Equal(t, "authentication required for full-resolution files", d.Reason, variant)

		d = c.Check(privPhoto, variant, anon)
		assert.False(t, d.Allowed, variant)
		assert.Equal(t, "authentication required for full-resolution files", d.Reason, variant)
	}

	// Smaller tiers fall through to the level policy and report its reason.
	d := c.Check(authPhoto, "medium-avif", anon)
	assert.False(t, d.Allowed)
	assert.Equal(t, "authentication required", d.Reason)

	// Any identity satisfies the rule; the level policy still applies after.
	assert.True(t, c.Check(authPhoto, "xlarge-avif", user).Allowed)
	assert.True(t, c.Check(authPhoto, "original", user).Allowed)
	assert.False(t, c.Check(privPhoto, "xlarge-avif", user).Allowed, "private still needs admin")

	// Public photos are exempt entirely.
	public := &model.Photo{ID: "p", AccessLevel: model.AccessPublic}
	assert.True(t, c.Check(public, "original", anon).Allowed)
}

func TestResolvePath(t *testing.T) {
	origRoot := t.TempDir()
	derivRoot := t.TempDir()
	c, err := New(origRoot, derivRoot, []byte("s"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(origRoot, "p1.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(derivRoot, "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(derivRoot, "p1", "small.avif"), []byte("x"), 0o644))

	got, err := c.ResolvePath(model.VariantOriginal, "p1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "p1.jpg", filepath.Base(got))

	got, err = c.ResolvePath("derivative", "p1/small.avif")
	require.NoError(t, err)
	assert.Equal(t, "small.avif", filepath.Base(got))
}

func TestResolvePathTraversal(t *testing.T) {
	origRoot := t.TempDir()
	c, err := New(origRoot, t.TempDir(), []byte("s"))
	require.NoError(t, err)

	for _, rel := range []string{
		"../outside.jpg",
		"../../etc/passwd",
		"a/../../outside.jpg",
	} {
		_, err := c.ResolvePath(model.VariantOriginal, rel)
		assert.ErrorIs(t, err, ErrPathTraversal, rel)
	}
}

func TestResolvePathSymlinkEscape(t *testing.T) {
	origRoot := t.TempDir()
	outside := t.TempDir()
	c, err := New(origRoot, t.TempDir(), []byte("s"))
	require.NoError(t, err)

	secret := filepath.Join(outside, "secret.jpg")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(secret, filepath.Join(origRoot, "sneaky.jpg")))

	_, err = c.ResolvePath(model.VariantOriginal, "sneaky.jpg")
	assert.ErrorIs(t, err, ErrPathTraversal)
}
