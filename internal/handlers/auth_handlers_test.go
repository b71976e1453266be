package handlers

import (
	"net/http"
	"testing"

	"github.com/dermashare/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
		"email":     "alice@example.com",
		"password":  "password123",
		"firstName": "Alice",
		"lastName":  "Ames",
		"role":      "patient",
	}, nil)
	assertStatus(t, resp, fiber.StatusCreated)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	if data["token"] == "" || data["token"] == nil {
		t.Fatal("expected a token in the register response")
	}
	user, _ := data["user"].(map[string]any)
	if user["role"] != "patient" {
		t.Fatalf("expected role patient, got %v", user["role"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, resp, fiber.StatusOK)

	body = decodeJSONMap(t, resp)
	data, _ = body["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the login response")
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	body = decodeJSONMap(t, resp)
	data, _ = body["data"].(map[string]any)
	if data["email"] != "alice@example.com" {
		t.Fatalf("expected own profile, got %v", data["email"])
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
		"email":     "alice@example.com",
		"password":  "password123",
		"firstName": "Alice",
		"lastName":  "Ames",
		"role":      "admin",
	}, nil)
	assertStatus(t, resp, fiber.StatusBadRequest)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "alice@example.com", models.UserRolePatient)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
		"email":     "alice@example.com",
		"password":  "password123",
		"firstName": "Alice",
		"lastName":  "Ames",
		"role":      "patient",
	}, nil)
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "alice@example.com", models.UserRolePatient)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong-password",
	}, nil)
	assertStatus(t, resp, fiber.StatusUnauthorized)
}

func TestMeRequiresAuth(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, nil)
	assertStatus(t, resp, fiber.StatusUnauthorized)
}
