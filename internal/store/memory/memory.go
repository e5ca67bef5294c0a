package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/pricing"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	items          map[string]domain.Item
	customers      map[string]domain.Customer
	invoices       map[string]domain.Invoice
	payments       map[string]domain.Payment
	recurring      map[string]domain.RecurringInvoice
	settingsByUser map[string]domain.Settings
	auditLogs      []domain.AuditLog
	usersByEmail   map[string]domain.UserAccount
}

// seedUsers builds the dashboard account used in dev/demo mode. The password
// comes from SEED_ADMIN_PASSWORD; the default is only meant for local runs
// (the server uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	email := strings.ToLower(envOr("SEED_ADMIN_EMAIL", "admin@invoiceshelf.local"))
	password := envOr("SEED_ADMIN_PASSWORD", "admin12345")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD to override")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Str("email", email).Msg("failed to hash seed password")
	}
	return map[string]domain.UserAccount{
		email: {
			ID:        "user-admin",
			Username:  "admin",
			Email:     email,
			Password:  string(hash),
			Role:      domain.RoleUser,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		items:          make(map[string]domain.Item),
		customers:      make(map[string]domain.Customer),
		invoices:       make(map[string]domain.Invoice),
		payments:       make(map[string]domain.Payment),
		recurring:      make(map[string]domain.RecurringInvoice),
		settingsByUser: make(map[string]domain.Settings),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		usersByEmail:   make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, item := range []domain.Item{
		{ID: "item-hosting", Name: "Managed hosting (monthly)", Price: decimal.RequireFromString("49.00")},
		{ID: "item-support", Name: "Support hour", Price: decimal.RequireFromString("85.00")},
		{ID: "item-domain", Name: "Domain renewal", Price: decimal.RequireFromString("15.50")},
	} {
		item.CreatedAt, item.UpdatedAt = now, now
		s.items[item.ID] = item
	}
	s.usersByEmail = seedUsers()
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(item.Name) == "" || item.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrDuplicate
	}
	stamp(&item.CreatedAt, &item.UpdatedAt)
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(item.Name) == "" || item.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.CompanyName, b.CompanyName)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.CompanyName) == "" || strings.TrimSpace(customer.Email) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if s.customerEmailTaken(customer.Email, "") {
		return nil, store.ErrDuplicate
	}
	stamp(&customer.CreatedAt, &customer.UpdatedAt)
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.CompanyName) == "" || strings.TrimSpace(customer.Email) == "" {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if s.customerEmailTaken(customer.Email, customer.ID) {
		return nil, store.ErrDuplicate
	}
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

// DeleteCustomer refuses while invoices or recurring definitions still point
// at the customer. Portal accounts go with it.
func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[id]; !exists {
		return store.ErrNotFound
	}
	for _, inv := range s.invoices {
		if inv.CustomerID == id {
			return store.ErrConflict
		}
	}
	for _, def := range s.recurring {
		if def.CustomerID == id {
			return store.ErrConflict
		}
	}
	delete(s.customers, id)
	for email, user := range s.usersByEmail {
		if user.CustomerID == id {
			delete(s.usersByEmail, email)
		}
	}
	return nil
}

func (s *Store) customerEmailTaken(email string, exceptID string) bool {
	for _, c := range s.customers {
		if c.ID != exceptID && strings.EqualFold(c.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.RecurringInvoiceID != "" && inv.RecurringInvoiceID != filter.RecurringInvoiceID {
			continue
		}
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.Number, a.Number)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return invoices, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertInvoiceLocked(&invoice); err != nil {
		return nil, err
	}
	created := cloneInvoice(invoice)
	return &created, nil
}

func (s *Store) insertInvoiceLocked(invoice *domain.Invoice) error {
	if strings.TrimSpace(invoice.Number) == "" || len(invoice.Items) == 0 {
		return store.ErrInvalidInput
	}
	if _, ok := s.customers[invoice.CustomerID]; !ok {
		return store.ErrInvalidInput
	}
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if s.invoiceNumberTaken(invoice.Number, "") {
		return store.ErrDuplicate
	}
	stamp(&invoice.CreatedAt, &invoice.UpdatedAt)
	s.invoices[invoice.ID] = cloneInvoice(*invoice)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoices[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(invoice)
	return &dup, nil
}

func (s *Store) UpdateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.invoices[invoice.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(invoice.Number) == "" || len(invoice.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.customers[invoice.CustomerID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if s.invoiceNumberTaken(invoice.Number, invoice.ID) {
		return nil, store.ErrDuplicate
	}
	invoice.CreatedAt = existing.CreatedAt
	invoice.RecurringInvoiceID = existing.RecurringInvoiceID
	invoice.UpdatedAt = time.Now().UTC()
	s.invoices[invoice.ID] = cloneInvoice(invoice)
	updated := cloneInvoice(invoice)
	return &updated, nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[id]; !exists {
		return store.ErrNotFound
	}
	for _, payment := range s.payments {
		if payment.InvoiceID == id {
			return store.ErrConflict
		}
	}
	delete(s.invoices, id)
	return nil
}

func (s *Store) invoiceNumberTaken(number string, exceptID string) bool {
	for _, inv := range s.invoices {
		if inv.ID != exceptID && inv.Number == number {
			return true
		}
	}
	return false
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		if filter.InvoiceID != "" && payment.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.CustomerID != "" && s.invoices[payment.InvoiceID].CustomerID != filter.CustomerID {
			continue
		}
		payments = append(payments, payment)
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := b.PaymentDate.Compare(a.PaymentDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return payments, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, exists := s.payments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !payment.Amount.IsPositive() || !payment.PaymentDate.IsValid() {
		return nil, nil, store.ErrInvalidInput
	}
	invoice, exists := s.invoices[payment.InvoiceID]
	if !exists {
		return nil, nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if _, taken := s.payments[payment.ID]; taken {
		return nil, nil, store.ErrDuplicate
	}
	if err := s.settleLocked(&invoice, payment.Amount); err != nil {
		return nil, nil, err
	}
	stamp(&payment.CreatedAt, &payment.UpdatedAt)
	s.payments[payment.ID] = payment

	settled := cloneInvoice(invoice)
	return &payment, &settled, nil
}

// UpdatePayment keeps the stored invoice link and creation time.
func (s *Store) UpdatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.payments[payment.ID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if !payment.Amount.IsPositive() || !payment.PaymentDate.IsValid() {
		return nil, nil, store.ErrInvalidInput
	}
	invoice, exists := s.invoices[existing.InvoiceID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if err := s.settleLocked(&invoice, payment.Amount.Sub(existing.Amount)); err != nil {
		return nil, nil, err
	}
	payment.InvoiceID = existing.InvoiceID
	payment.CreatedAt = existing.CreatedAt
	payment.UpdatedAt = time.Now().UTC()
	s.payments[payment.ID] = payment

	settled := cloneInvoice(invoice)
	return &payment, &settled, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.payments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	invoice, exists := s.invoices[existing.InvoiceID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := s.settleLocked(&invoice, existing.Amount.Neg()); err != nil {
		return nil, err
	}
	delete(s.payments, id)

	settled := cloneInvoice(invoice)
	return &settled, nil
}

// settleLocked moves the invoice's amountPaid by delta and stores it.
func (s *Store) settleLocked(invoice *domain.Invoice, delta decimal.Decimal) error {
	if err := pricing.Settle(invoice, invoice.AmountPaid.Add(delta)); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}
	invoice.UpdatedAt = time.Now().UTC()
	s.invoices[invoice.ID] = cloneInvoice(*invoice)
	return nil
}

func (s *Store) ListRecurringInvoices(_ context.Context, status domain.RecurringStatus) ([]domain.RecurringInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]domain.RecurringInvoice, 0, len(s.recurring))
	for _, def := range s.recurring {
		if status != "" && def.Status != status {
			continue
		}
		defs = append(defs, cloneRecurring(def))
	}
	slices.SortFunc(defs, func(a, b domain.RecurringInvoice) int {
		if c := a.NextInvoiceDate.Compare(b.NextInvoiceDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return defs, nil
}

func (s *Store) CreateRecurringInvoice(_ context.Context, def domain.RecurringInvoice) (*domain.RecurringInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(def.Name) == "" || len(def.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.customers[def.CustomerID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if def.ID == "" {
		def.ID = xid.New("rinv")
	}
	if _, exists := s.recurring[def.ID]; exists {
		return nil, store.ErrDuplicate
	}
	def.Version = 1
	stamp(&def.CreatedAt, &def.UpdatedAt)
	s.recurring[def.ID] = cloneRecurring(def)
	created := cloneRecurring(def)
	return &created, nil
}

func (s *Store) GetRecurringInvoice(_ context.Context, id string) (*domain.RecurringInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.recurring[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneRecurring(def)
	return &dup, nil
}

func (s *Store) UpdateRecurringInvoice(_ context.Context, def domain.RecurringInvoice, expectedVersion int64) (*domain.RecurringInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(def.Name) == "" || len(def.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.customers[def.CustomerID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if err := s.writeRecurringLocked(&def, expectedVersion); err != nil {
		return nil, err
	}
	updated := cloneRecurring(def)
	return &updated, nil
}

func (s *Store) writeRecurringLocked(def *domain.RecurringInvoice, expectedVersion int64) error {
	existing, exists := s.recurring[def.ID]
	if !exists {
		return store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return store.ErrConflict
	}
	def.Version = expectedVersion + 1
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	s.recurring[def.ID] = cloneRecurring(*def)
	return nil
}

func (s *Store) DeleteRecurringInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recurring[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.recurring, id)
	return nil
}

func (s *Store) CommitGeneration(_ context.Context, invoice domain.Invoice, def domain.RecurringInvoice, expectedVersion int64) (*domain.Invoice, *domain.RecurringInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.recurring[def.ID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return nil, nil, store.ErrConflict
	}
	// Both writes happen under one critical section; the invoice insert is
	// the only step that can fail so it goes first.
	if err := s.insertInvoiceLocked(&invoice); err != nil {
		return nil, nil, err
	}
	if err := s.writeRecurringLocked(&def, expectedVersion); err != nil {
		delete(s.invoices, invoice.ID)
		return nil, nil, err
	}
	createdInvoice := cloneInvoice(invoice)
	updatedDef := cloneRecurring(def)
	return &createdInvoice, &updatedDef, nil
}

func (s *Store) GetSettings(_ context.Context, userID string) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settingsByUser[userID]
	if !ok {
		return domain.DefaultSettings(), nil
	}
	return settings, nil
}

func (s *Store) SaveSettings(_ context.Context, userID string, settings domain.Settings) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(userID) == "" {
		return domain.Settings{}, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()
	s.settingsByUser[userID] = settings
	return settings, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByEmail[email]; exists {
		return store.ErrDuplicate
	}
	user.Email = email
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByEmail[email] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByEmail))
	for _, user := range s.usersByEmail {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByEmail[email]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByEmail[email] = user
	return nil
}

func stamp(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneRecurring(src domain.RecurringInvoice) domain.RecurringInvoice {
	dup := src
	dup.Items = slices.Clone(src.Items)
	if src.EndDate != nil {
		end := *src.EndDate
		dup.EndDate = &end
	}
	if src.DayOfMonth != nil {
		v := *src.DayOfMonth
		dup.DayOfMonth = &v
	}
	if src.DayOfWeek != nil {
		v := *src.DayOfWeek
		dup.DayOfWeek = &v
	}
	if src.LastGeneratedAt != nil {
		at := *src.LastGeneratedAt
		dup.LastGeneratedAt = &at
	}
	return dup
}
