package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/logger"
	"invoiceshelf/backend/internal/recurring"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// AccountProvisioner creates the portal login for a customer.
type AccountProvisioner interface {
	ProvisionCustomerAccount(ctx context.Context, customer domain.Customer, password string) error
}

type Service struct {
	repo      store.Repository
	generator *recurring.Generator
	accounts  AccountProvisioner
	log       zerolog.Logger
}

// New wires the service. A nil generator gets an in-process one with default
// options; a nil provisioner disables portal accounts.
func New(repo store.Repository, generator *recurring.Generator, accounts AccountProvisioner) *Service {
	if generator == nil {
		generator = recurring.NewGenerator(repo, nil, recurring.Options{Logger: logger.WithComponent("recurring")})
	}

	return &Service{
		repo:      repo,
		generator: generator,
		accounts:  accounts,
		log:       logger.WithComponent("service"),
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Item{}, err
	}
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Item{}, err
	}

	item := domain.Item{Name: strings.TrimSpace(req.Name), Price: decimal.Zero}
	if req.Price != nil {
		item.Price = *req.Price
	}
	if item.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if item.Price.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.Price))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Item{}, err
	}

	existing, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_update", "item", saved.ID, fmt.Sprintf("name=%s,price=%s", saved.Name, saved.Price))
	return *saved, nil
}

// DeleteItem is allowed even while recurring definitions reference the item;
// their next generation then fails with an item_not_found reason.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "item_delete", "item", id, "")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// CreateCustomer also provisions a portal login when a password is supplied.
// If provisioning fails the customer is removed again.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Customer{}, err
	}

	customer := domain.Customer{
		CompanyName:       strings.TrimSpace(req.CompanyName),
		ContactPersonName: strings.TrimSpace(req.ContactPersonName),
		Email:             normalizeEmail(req.Email),
		Phone:             strings.TrimSpace(req.Phone),
		ShippingAddress:   strings.TrimSpace(req.ShippingAddress),
	}
	if err := validateCustomer(customer); err != nil {
		return domain.Customer{}, err
	}
	if req.Password != "" && len(req.Password) < 6 {
		return domain.Customer{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	if req.Password != "" && s.accounts != nil {
		if err := s.accounts.ProvisionCustomerAccount(ctx, *created, req.Password); err != nil {
			if delErr := s.repo.DeleteCustomer(ctx, created.ID); delErr != nil {
				s.log.Warn().Err(delErr).Str("customer_id", created.ID).Msg("failed to roll back customer after portal account error")
			}
			return domain.Customer{}, err
		}
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("company=%s,portal=%t", created.CompanyName, req.Password != ""))
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Customer{}, err
	}

	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	updated := *existing
	if req.CompanyName != nil {
		updated.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.ContactPersonName != nil {
		updated.ContactPersonName = strings.TrimSpace(*req.ContactPersonName)
	}
	if req.Email != nil {
		updated.Email = normalizeEmail(*req.Email)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.ShippingAddress != nil {
		updated.ShippingAddress = strings.TrimSpace(*req.ShippingAddress)
	}
	if err := validateCustomer(updated); err != nil {
		return domain.Customer{}, err
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, fmt.Sprintf("company=%s", saved.CompanyName))
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// GetSettings returns the caller's settings, or the defaults if none were saved.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	actor, err := requireRole(ctx, domain.RoleUser, domain.RoleCustomer)
	if err != nil {
		return domain.Settings{}, err
	}
	return s.repo.GetSettings(ctx, actor.UserID)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	actor, err := requireRole(ctx, domain.RoleUser, domain.RoleCustomer)
	if err != nil {
		return domain.Settings{}, err
	}

	settings, err := s.repo.GetSettings(ctx, actor.UserID)
	if err != nil {
		return domain.Settings{}, err
	}
	if req.EmailNotifications != nil {
		settings.EmailNotifications = *req.EmailNotifications
	}
	if req.InvoiceReminders != nil {
		settings.InvoiceReminders = *req.InvoiceReminders
	}
	if req.WeeklyReports != nil {
		settings.WeeklyReports = *req.WeeklyReports
	}
	if req.DarkMode != nil {
		settings.DarkMode = *req.DarkMode
	}
	settings.UpdatedAt = time.Now().UTC()

	return s.repo.SaveSettings(ctx, actor.UserID, settings)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
}

func validateCustomer(customer domain.Customer) error {
	if customer.CompanyName == "" {
		return fmt.Errorf("%w: companyName is required", store.ErrInvalidInput)
	}
	if customer.Phone == "" {
		return fmt.Errorf("%w: phone is required", store.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(customer.Email); err != nil || !strings.Contains(customer.Email, "@") {
		return fmt.Errorf("%w: email is invalid", store.ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
