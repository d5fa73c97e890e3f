package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
	ErrMissingPassword    = errors.New("authentication enabled without a password")
)

// Config holds preview authentication settings
type Config struct {
	Enabled     bool
	Username    string
	Password    string        // Plaintext or bcrypt hash
	JWTSecret   string        // Random per process when empty
	TokenExpiry time.Duration // Defaults to 24h
}

// Authenticator handles preview login
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	signer       *TokenSigner
}

// NewAuthenticator creates an authenticator from config
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled {
		if cfg.Password == "" {
			return nil, ErrMissingPassword
		}
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			passwordHash = hash
		}
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     cfg.Username,
		passwordHash: passwordHash,
		signer:       NewTokenSigner(cfg.JWTSecret, cfg.TokenExpiry),
	}, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.signer.Sign(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a preview token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.signer.Verify(token)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// LoginHandler exchanges JSON credentials for a token
func (a *Authenticator) LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}

		token, expiresAt, err := a.Authenticate(req.Username, req.Password)
		switch {
		case errors.Is(err, ErrAuthDisabled):
			http.Error(w, `{"error": "authentication is disabled"}`, http.StatusNotFound)
			return
		case errors.Is(err, ErrInvalidCredentials):
			http.Error(w, `{"error": "invalid credentials"}`, http.StatusUnauthorized)
			return
		case err != nil:
			http.Error(w, `{"error": "failed to issue token"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(loginResponse{Token: token, ExpiresAt: expiresAt})
	})
}

// HashPassword creates a bcrypt hash of a password (utility function)
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
