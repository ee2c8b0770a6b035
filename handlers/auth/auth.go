package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"collabdocs/config"
	"collabdocs/core"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

var (
	jwtSecret         []byte
	githubOauthConfig *oauth2.Config
	validate          = validator.New()
)

// AppClaims represents the custom claims for the JWT. Subject is the
// principal id every owner-scoped store operation filters on.
type AppClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// InitAuth configures the JWT secret and the optional GitHub OAuth provider.
func InitAuth(cfg *config.Config) {
	jwtSecret = []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}

	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		logrus.Info("Initializing GitHub authentication provider.")
		githubOauthConfig = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type authResponse struct {
	Token string    `json:"token"`
	User  *userView `json:"user"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HandleRegister creates a new password-login user and issues a token.
func HandleRegister(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email and password required"})
			return
		}
		if err := validate.Struct(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email and password required"})
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), 10)
		if err != nil {
			logrus.WithError(err).Error("Failed to hash password")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Registration failed"})
			return
		}

		user, err := users.CreateUser(r.Context(), req.Email, string(hashed))
		if err != nil {
			if errors.Is(err, core.ErrUserExists) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "User already exists"})
				return
			}
			logrus.WithError(err).Error("Failed to create user")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Registration failed"})
			return
		}

		token, err := CreateJWT(user.ID, user.Email, "")
		if err != nil {
			logrus.WithError(err).Error("Failed to create JWT")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Registration failed"})
			return
		}

		render.JSON(w, r, authResponse{Token: token, User: &userView{ID: user.ID, Email: user.Email}})
	}
}

// HandleLogin verifies a password login and issues a token.
func HandleLogin(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email and password required"})
			return
		}
		if req.Email == "" || req.Password == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email and password required"})
			return
		}

		user, err := users.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid password"})
			return
		}

		token, err := CreateJWT(user.ID, user.Email, "")
		if err != nil {
			logrus.WithError(err).Error("Failed to create JWT")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Login failed"})
			return
		}

		render.JSON(w, r, authResponse{Token: token, User: &userView{ID: user.ID, Email: user.Email}})
	}
}

func generateStateOauthCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	rand.Read(b)
	state := base64.URLEncoding.EncodeToString(b)
	cookie := &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
	}
	http.SetCookie(w, cookie)
	return state
}

// HandleGitHubLogin starts the OAuth flow for the optional GitHub provider.
func HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if githubOauthConfig == nil {
		http.Error(w, "GitHub OAuth is not configured", http.StatusInternalServerError)
		return
	}
	state := generateStateOauthCookie(w)
	url := githubOauthConfig.AuthCodeURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleGitHubCallback exchanges the OAuth code and issues the same JWT the
// password flow does, with subject "github:<id>". GitHub principals never
// touch the user store.
func HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if githubOauthConfig == nil {
		http.Error(w, "GitHub OAuth is not configured", http.StatusInternalServerError)
		return
	}

	token, err := githubOauthConfig.Exchange(context.Background(), r.FormValue("code"))
	if err != nil {
		logrus.Errorf("failed to exchange token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	client := githubOauthConfig.Client(context.Background(), token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		logrus.Errorf("failed to get user from github: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logrus.Errorf("failed to read github response body: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	var githubUser struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		logrus.Errorf("failed to unmarshal github user: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	name := githubUser.Name
	if name == "" {
		name = githubUser.Login
	}

	jwtToken, err := CreateJWT(fmt.Sprintf("github:%d", githubUser.ID), "", name)
	if err != nil {
		logrus.Errorf("failed to create JWT: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/?token=%s", jwtToken), http.StatusTemporaryRedirect)
}

// CreateJWT signs a one-week bearer token for a principal.
func CreateJWT(subject, email, name string) (string, error) {
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 24 * 7)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: email,
		Name:  name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseJWT validates a bearer token and returns its claims.
func ParseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// ResolvePrincipal adapts ParseJWT for the realtime session layer: it maps
// a raw bearer credential to a principal id and display name.
func ResolvePrincipal(token string) (string, string, error) {
	if token == "" {
		return "", "", fmt.Errorf("missing credential")
	}
	claims, err := ParseJWT(token)
	if err != nil {
		return "", "", err
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return claims.Subject, name, nil
}
