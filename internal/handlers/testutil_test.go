package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/middleware"
	"github.com/dermashare/backend/internal/models"
	"github.com/dermashare/backend/internal/services"
	"github.com/dermashare/backend/pkg/logger"
	"github.com/dermashare/backend/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	store *fakeStore
}

var testSetupOnce sync.Once

// fakeStore is an in-memory ObjectStore with lexicographic listing order.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	derived map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		derived: make(map[string][]byte),
	}
}

func (f *fakeStore) seed(key, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte(content)
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) content(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.objects[key])
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return bytes.Clone(data), nil
}

func (f *fakeStore) Copy(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src]
	if !ok {
		return fmt.Errorf("no such key %s", src)
	}
	f.objects[dst] = bytes.Clone(data)
	return nil
}

func (f *fakeStore) CopyDerived(_ context.Context, derivedKey, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.derived[derivedKey]
	if !ok {
		return fmt.Errorf("no such derived key %s", derivedKey)
	}
	f.objects[dst] = bytes.Clone(data)
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) DerivedExists(_ context.Context, derivedKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.derived[derivedKey]
	return ok, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) ListDir(_ context.Context, prefix string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	folderSet := make(map[string]bool)
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			folderSet[rest[:idx]] = true
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	folders := make([]string, 0, len(folderSet))
	for folder := range folderSet {
		folders = append(folders, folder)
	}
	sort.Strings(folders)
	return keys, folders, nil
}

func (f *fakeStore) SignedURL(_ context.Context, key string) (string, error) {
	return "https://store.test/" + key + "?X-Amz-Expires=300", nil
}

// fakeProcessor materializes the derived image immediately on submit, so
// segmentation tests complete within the short poll window.
type fakeProcessor struct {
	store *fakeStore
}

func (p *fakeProcessor) Submit(_ context.Context, imageKey string) error {
	derivedKey, err := imaging.SegmentationSourceKey(imageKey)
	if err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.derived[derivedKey] = []byte("segmented")
	return nil
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.User{}, &models.AuditLog{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	store := newFakeStore()

	auditService := services.NewAuditService(db)
	connectionService := services.NewConnectionService(db)

	browser := imaging.NewBrowser(store)
	uploader := imaging.NewUploader(store)
	notes := imaging.NewNoteManager(store)
	sharer := imaging.NewSharer(store)
	segmenter := imaging.NewSegmenter(store, &fakeProcessor{store: store}, time.Millisecond, 100*time.Millisecond)

	authHandler := NewAuthHandler(db, auditService)
	imagesHandler := NewImagesHandler(browser, uploader, notes, sharer, segmenter, auditService)
	connectionsHandler := NewConnectionsHandler(connectionService, auditService)
	auditHandler := NewAuditHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	imageRoutes := api.Group("/images", authMiddleware.RequireAuth)
	imageRoutes.Get("/", imagesHandler.List)
	imageRoutes.Post("/upload", imagesHandler.Upload)
	imageRoutes.Get("/notes", imagesHandler.ListNotes)
	imageRoutes.Post("/notes", imagesHandler.AddNote)
	imageRoutes.Post("/share",
		middleware.RequireRoles(models.UserRoleDoctor),
		imagesHandler.Share,
	)
	imageRoutes.Post("/segment",
		middleware.RequireRoles(models.UserRoleDoctor),
		imagesHandler.Segment,
	)

	consentRoutes := api.Group("/consent", authMiddleware.RequireAuth)
	consentRoutes.Get("/", imagesHandler.GetConsent)
	consentRoutes.Post("/",
		middleware.RequireRoles(models.UserRolePatient),
		imagesHandler.SaveConsent,
	)

	connectionRoutes := api.Group("/connections", authMiddleware.RequireAuth)
	connectionRoutes.Get("/", connectionsHandler.List)
	connectionRoutes.Post("/", connectionsHandler.Add)
	connectionRoutes.Delete("/:email", connectionsHandler.Remove)

	api.Get("/audit", authMiddleware.RequireAuth, auditHandler.List)

	return &testEnv{app: app, db: db, store: store}
}

func createTestUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Connections:  []string{},
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func connectUsers(t *testing.T, db *gorm.DB, a, b *models.User) {
	t.Helper()
	a.Connections = append(a.Connections, b.Email)
	b.Connections = append(b.Connections, a.Email)
	if err := db.Save(a).Error; err != nil {
		t.Fatalf("failed connecting users: %v", err)
	}
	if err := db.Save(b).Error; err != nil {
		t.Fatalf("failed connecting users: %v", err)
	}
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func performUpload(t *testing.T, app *fiber.App, token, connection, folder, filename, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if connection != "" {
		if err := writer.WriteField("connection", connection); err != nil {
			t.Fatalf("failed writing form field: %v", err)
		}
	}
	if folder != "" {
		if err := writer.WriteField("folder", folder); err != nil {
			t.Fatalf("failed writing form field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	headers := authHeaders(token)
	headers["Content-Type"] = writer.FormDataContentType()
	return performRequest(t, app, http.MethodPost, "/api/images/upload", &buf, headers)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
