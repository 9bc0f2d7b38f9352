package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRole(role string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), uuid.New(), role))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRole(RoleDoctor)
	if err := RequireRole(RoleDoctor, RolePatient)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRole(RolePatient)
	err := RequireRole(RoleDoctor)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRole(RoleAdmin)
	if err := RequireRole(RoleDoctor)(okHandler)(c); err != nil {
		t.Fatalf("admin should pass any role check: %v", err)
	}
}

func TestRequireRole_NoRole(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(RolePatient)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}
