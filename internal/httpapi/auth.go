package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
)

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

const tokenIssuer = "posledger"

func knownRole(role string) bool {
	switch role {
	case RoleCashier, RoleManager, RoleAdmin:
		return true
	}
	return false
}

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	users      map[string]credential
}

// UserAccount is one login entry. Password holds a bcrypt hash.
type UserAccount struct {
	Username string
	Role     string
	Password string
}

type credential struct {
	password string
	role     string
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthManager builds the token issuer. When users is empty the development
// accounts admin, manager and cashier-1 are seeded.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users []UserAccount) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	if hashed, err := hashPassword(managerPIN); err == nil {
		managerPIN = hashed
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		users:      make(map[string]credential),
	}
	if len(users) == 0 {
		users = devUsers()
	}
	for _, user := range users {
		manager.users[strings.ToLower(user.Username)] = credential{password: user.Password, role: user.Role}
	}
	return manager
}

func devUsers() []UserAccount {
	seed := []UserAccount{
		{Username: "admin", Role: RoleAdmin, Password: "admin123"},
		{Username: "manager", Role: RoleManager, Password: "manager123"},
		{Username: "cashier-1", Role: RoleCashier, Password: "cashier123"},
	}
	out := make([]UserAccount, 0, len(seed))
	for _, user := range seed {
		hashed, err := hashPassword(user.Password)
		if err != nil {
			continue
		}
		user.Password = hashed
		out = append(out, user)
	}
	return out
}

// ParseUsers reads a comma separated username:role:bcrypt-hash list.
func ParseUsers(raw string) ([]UserAccount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var users []UserAccount
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth user %q: expected username:role:hash", entry)
		}
		username, role, hash := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		if username == "" {
			return nil, errors.New("auth user: empty username")
		}
		if !knownRole(role) {
			return nil, fmt.Errorf("auth user %q: unknown role %q", username, role)
		}
		if !isPasswordHash(hash) {
			return nil, fmt.Errorf("auth user %q: password must be a bcrypt hash", username)
		}
		users = append(users, UserAccount{Username: username, Role: role, Password: hash})
	}
	return users, nil
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	cred, ok := a.users[username]
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	if claims.Subject == "" || !knownRole(claims.Role) {
		return domain.Actor{}, errors.New("token carries no usable actor")
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateManagerPIN approves supervised drawer outflows.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return verifyPassword(a.managerPIN, strings.TrimSpace(pin))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
