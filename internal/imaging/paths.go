package imaging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Object keys follow the grammar {email}[/{email}]/{folder}/{filename.ext}.
// The first segment is the namespace the key lives under; when a second
// email segment is present the key sits in a shared area placed there by a
// connection, and swapping the first two segments yields the other party's
// view of the same content.

var (
	imageKeyRe = regexp.MustCompile(`(?i)\.(jpe?g|png)$`)
	noteKeyRe  = regexp.MustCompile(`\.note(\d+)\.json$`)
)

// Namespace identifies whose folder tree a key belongs to. Owner is the
// uploading user; CoOwner, when set, is the connection whose shared area the
// content was placed into.
type Namespace struct {
	Owner   string
	CoOwner string
}

func OwnNamespace(owner string) Namespace {
	return Namespace{Owner: owner}
}

func SharedNamespace(owner, coOwner string) Namespace {
	return Namespace{Owner: owner, CoOwner: coOwner}
}

// Prefix returns the namespace root: "owner" alone, or "coOwner/owner" for a
// shared area.
func (n Namespace) Prefix() string {
	if n.CoOwner == "" {
		return n.Owner
	}
	return n.CoOwner + "/" + n.Owner
}

// ConsentOwner is the user whose consent record gates visibility of this
// namespace: the first path segment of the prefix.
func (n Namespace) ConsentOwner() string {
	if n.CoOwner != "" {
		return n.CoOwner
	}
	return n.Owner
}

func (n Namespace) IsShared() bool {
	return n.CoOwner != ""
}

// ParseNamespace inverts Prefix.
func ParseNamespace(prefix string) (Namespace, error) {
	trimmed := strings.Trim(prefix, "/")
	if trimmed == "" {
		return Namespace{}, fmt.Errorf("%w: empty namespace prefix", ErrValidation)
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) == 1 {
		return Namespace{Owner: segments[0]}, nil
	}
	return Namespace{CoOwner: segments[0], Owner: segments[1]}, nil
}

// Reciprocal swaps the first two slash-delimited segments of a key or
// prefix, producing the other party's view of the same path. Keys with fewer
// than two segments have no reciprocal; ok is false and the input is
// returned unchanged.
func Reciprocal(key string) (string, bool) {
	segments := strings.Split(key, "/")
	if len(segments) < 2 {
		return key, false
	}
	segments[0], segments[1] = segments[1], segments[0]
	return strings.Join(segments, "/"), true
}

// IsImageKey reports whether key carries a recognized image extension.
func IsImageKey(key string) bool {
	return imageKeyRe.MatchString(key)
}

// BaseKey strips the image extension; note sidecars hang off this base.
func BaseKey(imageKey string) string {
	return imageKeyRe.ReplaceAllString(imageKey, "")
}

// NoteListPrefix is the list prefix enumerating an image's note thread.
func NoteListPrefix(imageKey string) string {
	return BaseKey(imageKey) + ".note"
}

// NoteKey builds the sidecar key for note number n.
func NoteKey(baseKey string, n int) string {
	return fmt.Sprintf("%s.note%d.json", baseKey, n)
}

// ParseNoteIndex extracts N from a ".noteN.json" key.
func ParseNoteIndex(key string) (int, bool) {
	m := noteKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextNoteIndex allocates the next note number: max over existing keys plus
// one, starting at 1. Numbers are never reused.
func NextNoteIndex(existingKeys []string) int {
	max := 0
	for _, key := range existingKeys {
		if n, ok := ParseNoteIndex(key); ok && n > max {
			max = n
		}
	}
	return max + 1
}

// ConsentKey locates a patient's consent record.
func ConsentKey(email string) string {
	return email + "/consentform.json"
}

// BuildKey joins a namespace, folder and filename into an object key. An
// empty folder places the file at the namespace root.
func BuildKey(ns Namespace, folder, filename string) string {
	if folder == "" {
		return ns.Prefix() + "/" + filename
	}
	return ns.Prefix() + "/" + folder + "/" + filename
}

// ImageRef is the parsed form of an image key.
type ImageRef struct {
	Namespace Namespace
	Folder    string
	Filename  string
}

func (r ImageRef) Key() string {
	return BuildKey(r.Namespace, r.Folder, r.Filename)
}

// ParseImageKey splits a key back into namespace, folder and filename. The
// second segment is taken as a co-owner only when it looks like an email,
// matching the convention the upload paths follow.
func ParseImageKey(key string) (ImageRef, error) {
	if !IsImageKey(key) {
		return ImageRef{}, fmt.Errorf("%w: %q is not an image key", ErrValidation, key)
	}
	segments := strings.Split(key, "/")
	if len(segments) < 2 {
		return ImageRef{}, fmt.Errorf("%w: key %q has no namespace segment", ErrValidation, key)
	}

	ref := ImageRef{Filename: segments[len(segments)-1]}
	rest := segments[:len(segments)-1]

	ref.Namespace.Owner = rest[0]
	rest = rest[1:]
	if len(rest) > 0 && strings.Contains(rest[0], "@") {
		ref.Namespace = Namespace{CoOwner: ref.Namespace.Owner, Owner: rest[0]}
		rest = rest[1:]
	}
	ref.Folder = strings.Join(rest, "/")
	return ref, nil
}

// SegmentationSourceKey maps an original image key to the key the external
// processor writes the derived image under, in its own namespace:
// {folder}/{base}_segmentation{ext}.
func SegmentationSourceKey(imageKey string) (string, error) {
	if !IsImageKey(imageKey) {
		return "", fmt.Errorf("%w: %q is not an image key", ErrValidation, imageKey)
	}
	dir, filename := splitKey(imageKey)
	dot := strings.LastIndex(filename, ".")
	base, ext := filename[:dot], filename[dot:]
	return joinKey(dir, base+"_segmentation"+ext), nil
}

// SegmentedDestKey maps an original image key to the local destination of
// its derived counterpart: a "-segmented" sibling folder.
func SegmentedDestKey(imageKey string) (string, error) {
	if !IsImageKey(imageKey) {
		return "", fmt.Errorf("%w: %q is not an image key", ErrValidation, imageKey)
	}
	dir, filename := splitKey(imageKey)
	if dir == "" {
		return "", fmt.Errorf("%w: key %q has no folder to derive a segmented sibling from", ErrValidation, imageKey)
	}
	return dir + "-segmented/" + filename, nil
}

func splitKey(key string) (dir, filename string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}

func joinKey(dir, filename string) string {
	if dir == "" {
		return filename
	}
	return dir + "/" + filename
}
