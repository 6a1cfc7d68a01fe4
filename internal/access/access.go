package access

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lensworks/aperture/internal/model"
)

// ErrPathTraversal is a hard security fault: a resolved file path escaped its
// root. It is logged at high severity and must surface to the client as a
// generic not-found, never with detail.
var ErrPathTraversal = errors.New("access: path escapes storage root")

// Decision is the typed outcome of a policy check. Denial is an expected,
// frequent outcome, not an exceptional one.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// fullResolution marks the size tiers that require authentication on any
// non-public photo regardless of what the photo's level would grant. Keyed
// by tier, so both "xlarge-avif" and "xlarge-jpeg" tokens match.
var fullResolution = map[string]bool{
	model.VariantOriginal: true,
	"xlarge":              true,
}

// Controller maps (photo, variant) pairs to on-disk paths, applies the
// access-level policy and issues/verifies HMAC-signed temporary URLs.
type Controller struct {
	originalsRoot   string
	derivativesRoot string
	secret          []byte

	now func() time.Time
}

// New resolves both roots to absolute, symlink-free paths up front so later
// containment checks compare like with like.
func New(originalsRoot, derivativesRoot string, secret []byte) (*Controller, error) {
	if len(secret) == 0 {
		return nil, errors.New("access: signing secret must not be empty")
	}

	origAbs, err := canonicalRoot(originalsRoot)
	if err != nil {
		return nil, fmt.Errorf("access: originals root: %w", err)
	}
	derivAbs, err := canonicalRoot(derivativesRoot)
	if err != nil {
		return nil, fmt.Errorf("access: derivatives root: %w", err)
	}

	return &Controller{
		originalsRoot:   origAbs,
		derivativesRoot: derivAbs,
		secret:          secret,
		now:             time.Now,
	}, nil
}

func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	// Roots are created at startup; resolve symlinks when possible so the
	// containment prefix matches what EvalSymlinks yields for files below.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// ResolvePath maps a variant kind and relative path to a concrete file path,
// verifying after resolution that the real path is still contained in the
// root for that kind. Any escape is ErrPathTraversal.
func (c *Controller) ResolvePath(kind, relPath string) (string, error) {
	root := c.derivativesRoot
	if kind == model.VariantOriginal {
		root = c.originalsRoot
	}

	full := filepath.Join(root, filepath.FromSlash(relPath))
	if !contained(root, full) {
		slog.Error("path traversal attempt", "kind", kind, "path", relPath)
		return "", ErrPathTraversal
	}

	// Re-check after symlink resolution: a link inside the root must not
	// point outside it.
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("access: resolve %s: %w", relPath, err)
	}
	if !contained(root, resolved) {
		slog.Error("path traversal attempt via symlink", "kind", kind, "path", relPath)
		return "", ErrPathTraversal
	}

	return resolved, nil
}

func contained(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// Check applies the access-level policy. It is idempotent: identical inputs
// always yield the same decision.
func (c *Controller) Check(photo *model.Photo, variant string, req model.Requester) Decision {
	if photo.AccessLevel == model.AccessPublic {
		return allow
	}

	// Full-resolution files of non-public photos always need an identity,
	// whatever the level itself would grant.
	if tier, _ := model.SplitVariantKey(variant); fullResolution[tier] && req.IsAnonymous() {
		return deny("authentication required for full-resolution files")
	}

	switch photo.AccessLevel {
	case model.AccessAuthenticated:
		if req.IsAnonymous() {
			return deny("authentication required")
		}
	case model.AccessPrivate:
		if !req.IsAdmin() {
			return deny("administrator privilege required")
		}
	default:
		return deny("unknown access level")
	}
	return allow
}

// Sign issues a temporary URL path for fetching one file of one photo:
// /photos/{id}/file/{variant}?expires={unix}&signature={hex}.
func (c *Controller) Sign(photoID, variant string, ttl time.Duration) string {
	expiresAt := c.now().Add(ttl).Unix()
	sig := c.signature(photoID, variant, expiresAt)
	return fmt.Sprintf("/photos/%s/file/%s?expires=%d&signature=%s", photoID, variant, expiresAt, sig)
}

// Verify checks expiry first, then recomputes the expected signature and
// compares in constant time. Any mismatch is a plain false, never an error.
func (c *Controller) Verify(photoID, variant string, expiresAt int64, signature string) bool {
	if c.now().Unix() > expiresAt {
		return false
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s:%d", photoID, variant, expiresAt)
	return hmac.Equal(got, mac.Sum(nil))
}

func (c *Controller) signature(photoID, variant string, expiresAt int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s:%d", photoID, variant, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}
