package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/logger"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
)

// AuthManager issues and verifies access tokens for dashboard users and
// portal customers. Credentials are cached by email and refreshed from the
// user store on login.
type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	log       zerolog.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

type credential struct {
	id         string
	username   string
	password   string
	role       string
	customerID string
	active     bool
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role       string `json:"role"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	CustomerID string `json:"customer_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		log:       logger.WithComponent("auth"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	a.bootstrapUsers(ctx)
	email := normalizeEmail(req.Email)
	a.mu.RLock()
	cred, ok := a.users[email]
	a.mu.RUnlock()
	if !ok {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.AuthResponse{}, ErrAccountInactive
	}

	return a.issue(ctx, email, cred, "Login successful")
}

// Register creates a dashboard account and logs it in.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)
	if len(username) < 3 {
		return domain.AuthResponse{}, fmt.Errorf("%w: username must be at least 3 characters", store.ErrInvalidInput)
	}
	if err := validateCredentials(email, req.Password); err != nil {
		return domain.AuthResponse{}, err
	}

	cred, err := a.createAccount(ctx, domain.UserAccount{
		ID:       xid.New("user"),
		Username: username,
		Email:    email,
		Role:     domain.RoleUser,
	}, req.Password)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return a.issue(ctx, email, cred, "Registration successful")
}

// ProvisionCustomerAccount creates the portal login of a customer.
func (a *AuthManager) ProvisionCustomerAccount(ctx context.Context, customer domain.Customer, password string) error {
	email := normalizeEmail(customer.Email)
	if err := validateCredentials(email, password); err != nil {
		return err
	}
	username := customer.ContactPersonName
	if username == "" {
		username = customer.CompanyName
	}
	_, err := a.createAccount(ctx, domain.UserAccount{
		ID:         xid.New("user"),
		Username:   username,
		Email:      email,
		Role:       domain.RoleCustomer,
		CustomerID: customer.ID,
	}, password)
	return err
}

func (a *AuthManager) createAccount(ctx context.Context, account domain.UserAccount, password string) (credential, error) {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	_, exists := a.users[account.Email]
	a.mu.RUnlock()
	if exists {
		return credential{}, fmt.Errorf("%w: email already registered", store.ErrDuplicate)
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return credential{}, fmt.Errorf("failed to hash password: %w", err)
	}
	account.Password = passwordHash
	account.Active = true
	account.CreatedAt = time.Now().UTC()

	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return credential{}, fmt.Errorf("%w: email already registered", store.ErrDuplicate)
			}
			return credential{}, err
		}
	}

	cred := credentialOf(account)
	a.mu.Lock()
	a.users[account.Email] = cred
	a.mu.Unlock()
	return cred, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		UserID:     sub,
		Username:   claims.Username,
		Email:      claims.Email,
		Role:       claims.Role,
		CustomerID: claims.CustomerID,
	}, nil
}

// Profile describes the token holder, including the linked customer for
// portal accounts.
func (a *AuthManager) Profile(ctx context.Context, actor domain.Actor) domain.UserProfile {
	profile := domain.UserProfile{
		ID:       actor.UserID,
		Username: actor.Username,
		Email:    actor.Email,
		Role:     actor.Role,
	}
	if actor.CustomerID == "" || a.userStore == nil {
		return profile
	}
	customer, err := a.userStore.GetCustomer(ctx, actor.CustomerID)
	if err != nil {
		a.log.Warn().Err(err).Str("customer_id", actor.CustomerID).Msg("failed to load customer for profile")
		return profile
	}
	profile.CompanyName = customer.CompanyName
	profile.ContactPersonName = customer.ContactPersonName
	return profile
}

func (a *AuthManager) issue(ctx context.Context, email string, cred credential, message string) (domain.AuthResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	actor := domain.Actor{
		UserID:     cred.id,
		Username:   cred.username,
		Email:      email,
		Role:       cred.role,
		CustomerID: cred.customerID,
	}
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, err
	}

	return domain.AuthResponse{
		Message:   message,
		User:      a.Profile(ctx, actor),
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "invoiceshelf",
		},
		Role:       actor.Role,
		Username:   actor.Username,
		Email:      actor.Email,
		CustomerID: actor.CustomerID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. Plain-text passwords found in the store are upgraded to
// bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load user accounts")
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		email := normalizeEmail(user.Email)
		if email == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, email, hashed)
			}
		}
		a.users[email] = credentialOf(user)
	}
}

func credentialOf(user domain.UserAccount) credential {
	return credential{
		id:         user.ID,
		username:   user.Username,
		password:   user.Password,
		role:       user.Role,
		customerID: user.CustomerID,
		active:     user.Active,
	}
}

func validateCredentials(email string, password string) error {
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email is invalid", store.ErrInvalidInput)
	}
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
