package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collabdocs/config"
	"collabdocs/stores/memory"
)

func initTestAuth() {
	InitAuth(&config.Config{JWTSecret: "test-secret"})
}

func TestCreateAndParseJWT(t *testing.T) {
	initTestAuth()

	token, err := CreateJWT("user-1", "a@example.com", "Ada")
	if err != nil {
		t.Fatalf("CreateJWT() failed: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT() failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" || claims.Name != "Ada" {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestParseJWT_BadToken(t *testing.T) {
	initTestAuth()

	if _, err := ParseJWT("not-a-token"); err == nil {
		t.Error("ParseJWT() accepted a malformed token")
	}

	jwtSecret = []byte("other-secret")
	token, _ := CreateJWT("user-1", "", "")
	jwtSecret = []byte("test-secret")
	if _, err := ParseJWT(token); err == nil {
		t.Error("ParseJWT() accepted a token signed with a different secret")
	}
}

func TestResolvePrincipal(t *testing.T) {
	initTestAuth()

	token, _ := CreateJWT("user-1", "a@example.com", "")
	subject, name, err := ResolvePrincipal(token)
	if err != nil {
		t.Fatalf("ResolvePrincipal() failed: %v", err)
	}
	if subject != "user-1" {
		t.Errorf("subject = %q, want user-1", subject)
	}
	if name != "a@example.com" {
		t.Errorf("name should fall back to email, got %q", name)
	}

	if _, _, err := ResolvePrincipal(""); err == nil {
		t.Error("ResolvePrincipal() accepted an empty credential")
	}
	if _, _, err := ResolvePrincipal("garbage"); err == nil {
		t.Error("ResolvePrincipal() accepted garbage")
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	initTestAuth()
	store := memory.NewStore()
	register := HandleRegister(store)
	login := HandleLogin(store)

	w := postJSON(t, register, `{"email":"a@example.com","password":"secret1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register: status %d, body %s", w.Code, w.Body.String())
	}
	var reg authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("register response is not JSON: %v", err)
	}
	if reg.Token == "" || reg.User == nil || reg.User.Email != "a@example.com" {
		t.Errorf("register response = %+v", reg)
	}

	w = postJSON(t, login, `{"email":"a@example.com","password":"secret1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", w.Code, w.Body.String())
	}
	var log authResponse
	json.Unmarshal(w.Body.Bytes(), &log)
	claims, err := ParseJWT(log.Token)
	if err != nil {
		t.Fatalf("login token does not parse: %v", err)
	}
	if claims.Subject != reg.User.ID {
		t.Errorf("login subject %q does not match registered user %q", claims.Subject, reg.User.ID)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	initTestAuth()
	store := memory.NewStore()
	register := HandleRegister(store)

	postJSON(t, register, `{"email":"a@example.com","password":"secret1"}`)
	w := postJSON(t, register, `{"email":"a@example.com","password":"secret1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate register: status %d, want 400", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "User already exists" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestRegister_InvalidPayload(t *testing.T) {
	initTestAuth()
	register := HandleRegister(memory.NewStore())

	cases := []string{
		`not json`,
		`{"email":"","password":"secret1"}`,
		`{"email":"not-an-email","password":"secret1"}`,
		`{"email":"a@example.com","password":"short"}`,
	}
	for _, body := range cases {
		if w := postJSON(t, register, body); w.Code != http.StatusBadRequest {
			t.Errorf("register(%q): status %d, want 400", body, w.Code)
		}
	}
}

func TestLogin_Failures(t *testing.T) {
	initTestAuth()
	store := memory.NewStore()
	postJSON(t, HandleRegister(store), `{"email":"a@example.com","password":"secret1"}`)
	login := HandleLogin(store)

	w := postJSON(t, login, `{"email":"nobody@example.com","password":"secret1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown user: status %d, want 400", w.Code)
	}

	w = postJSON(t, login, `{"email":"a@example.com","password":"wrongpw"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("wrong password: status %d, want 400", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Invalid password" {
		t.Errorf("error = %q", resp["error"])
	}
}
