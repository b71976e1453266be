package imaging

import (
	"context"
	"strings"
	"testing"
)

func TestBuildIndexGroupsByFolder(t *testing.T) {
	store := newMemStore()
	store.seed("alice@h.com/portrait.jpg", "img")
	store.seed("alice@h.com/trip/a.jpg", "img")
	store.seed("alice@h.com/trip/b.png", "img")
	store.seed("alice@h.com/trip/notes.txt", "not an image")
	store.seed("alice@h.com/visit1/c.jpeg", "img")
	store.seed("bob@h.com/other/d.jpg", "someone else's image")

	browser := NewBrowser(store)
	index, err := browser.BuildIndex(context.Background(), OwnNamespace("alice@h.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(index.Folders) != 3 {
		t.Fatalf("expected 3 folders, got %d", len(index.Folders))
	}
	if index.Folders[0].Name != RootFolder {
		t.Fatalf("expected first folder to be root, got %q", index.Folders[0].Name)
	}
	if len(index.Folders[0].URLs) != 1 {
		t.Fatalf("expected 1 root image, got %d", len(index.Folders[0].URLs))
	}

	byName := make(map[string][]string)
	for _, folder := range index.Folders {
		byName[folder.Name] = folder.URLs
	}
	if len(byName["trip"]) != 2 {
		t.Fatalf("expected 2 trip images, got %d", len(byName["trip"]))
	}
	if len(byName["visit1"]) != 1 {
		t.Fatalf("expected 1 visit1 image, got %d", len(byName["visit1"]))
	}

	for _, url := range byName["trip"] {
		if !strings.HasPrefix(url, "https://") {
			t.Fatalf("expected signed URL, got %q", url)
		}
		if strings.Contains(url, "bob@h.com") {
			t.Fatalf("foreign namespace leaked into index: %q", url)
		}
	}
}

func TestBuildIndexEmptyNamespace(t *testing.T) {
	browser := NewBrowser(newMemStore())
	index, err := browser.BuildIndex(context.Background(), OwnNamespace("alice@h.com"))
	if err != nil {
		t.Fatalf("expected empty index, got error: %v", err)
	}
	if len(index.Folders) != 0 {
		t.Fatalf("expected no folders, got %d", len(index.Folders))
	}
}

func TestBuildIndexListFailureIsAnError(t *testing.T) {
	store := newMemStore()
	store.failLists["alice@h.com/"] = true

	browser := NewBrowser(store)
	if _, err := browser.BuildIndex(context.Background(), OwnNamespace("alice@h.com")); err == nil {
		t.Fatal("expected listing failure to surface as an error, not an empty index")
	}
}

func TestConsentFlagForSharedNamespace(t *testing.T) {
	store := newMemStore()
	store.seed("pat@h.com/doc@h.com/visit1/scan.jpg", "img")

	browser := NewBrowser(store)
	ns := SharedNamespace("doc@h.com", "pat@h.com")

	index, err := browser.BuildIndex(context.Background(), ns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if index.ConsentExists {
		t.Fatal("consent flag must be false before the consent record exists")
	}

	store.seed("pat@h.com/consentform.json", `{"name":"Pat","date":"2025-01-01T00:00:00Z"}`)

	index, err = browser.BuildIndex(context.Background(), ns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !index.ConsentExists {
		t.Fatal("consent flag must be true once the consent record exists")
	}
}

func TestConsentFlagOwnNamespace(t *testing.T) {
	store := newMemStore()
	store.seed("pat@h.com/consentform.json", `{"name":"Pat","date":"2025-01-01T00:00:00Z"}`)

	browser := NewBrowser(store)
	if !browser.ConsentExists(context.Background(), "pat@h.com") {
		t.Fatal("expected consent to exist")
	}
	if browser.ConsentExists(context.Background(), "other@h.com") {
		t.Fatal("expected no consent for other user")
	}
}
