package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func init() {
	// The dashboard reads money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

type RecurringStatus string

const (
	RecurringActive    RecurringStatus = "ACTIVE"
	RecurringPaused    RecurringStatus = "PAUSED"
	RecurringCompleted RecurringStatus = "COMPLETED"
)

type InvoiceStatus string

const (
	InvoiceDraft    InvoiceStatus = "DRAFT"
	InvoiceSent     InvoiceStatus = "SENT"
	InvoiceViewed   InvoiceStatus = "VIEWED"
	InvoicePaid     InvoiceStatus = "PAID"
	InvoiceUnpaid   InvoiceStatus = "UNPAID"
	InvoiceOverdue  InvoiceStatus = "OVERDUE"
	InvoiceRejected InvoiceStatus = "REJECTED"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePaid, InvoiceUnpaid, InvoiceOverdue, InvoiceRejected:
		return true
	}
	return false
}

const (
	RoleUser     = "user"
	RoleCustomer = "customer"
)

type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type ItemCreateRequest struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

type ItemUpdateRequest struct {
	Name  *string          `json:"name,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

type Customer struct {
	ID                string    `json:"id"`
	CompanyName       string    `json:"companyName"`
	ContactPersonName string    `json:"contactPersonName,omitempty"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone"`
	ShippingAddress   string    `json:"shippingAddress,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type CustomerCreateRequest struct {
	CompanyName       string `json:"companyName"`
	ContactPersonName string `json:"contactPersonName,omitempty"`
	Email             string `json:"email"`
	Password          string `json:"password,omitempty"`
	Phone             string `json:"phone"`
	ShippingAddress   string `json:"shippingAddress,omitempty"`
}

type CustomerUpdateRequest struct {
	CompanyName       *string `json:"companyName,omitempty"`
	ContactPersonName *string `json:"contactPersonName,omitempty"`
	Email             *string `json:"email,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	ShippingAddress   *string `json:"shippingAddress,omitempty"`
}

// LineInput is an (itemId, quantity) pair as submitted by forms.
type LineInput struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// InvoiceLine snapshots the item name and price at the time the invoice was built.
type InvoiceLine struct {
	ItemID    string          `json:"itemId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID                 string          `json:"id"`
	Number             string          `json:"number"`
	Status             InvoiceStatus   `json:"status"`
	SubTotal           decimal.Decimal `json:"subTotal"`
	AmountDue          decimal.Decimal `json:"amountDue"`
	AmountPaid         decimal.Decimal `json:"amountPaid"`
	DueDate            civil.Date      `json:"dueDate"`
	Notes              string          `json:"notes,omitempty"`
	CustomerID         string          `json:"customerId"`
	RecurringInvoiceID string          `json:"recurringInvoiceId,omitempty"`
	Items              []InvoiceLine   `json:"items"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type InvoiceCreateRequest struct {
	Number     string      `json:"number"`
	CustomerID string      `json:"customerId"`
	DueDate    civil.Date  `json:"dueDate"`
	Notes      string      `json:"notes,omitempty"`
	Items      []LineInput `json:"items"`
}

type InvoiceUpdateRequest struct {
	Number     *string        `json:"number,omitempty"`
	CustomerID *string        `json:"customerId,omitempty"`
	DueDate    *civil.Date    `json:"dueDate,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
	Status     *InvoiceStatus `json:"status,omitempty"`
	Items      *[]LineInput   `json:"items,omitempty"`
}

type InvoiceStatusRequest struct {
	Status InvoiceStatus `json:"status"`
}

type InvoiceFilter struct {
	CustomerID         string
	RecurringInvoiceID string
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentPaypal       PaymentMethod = "PAYPAL"
	PaymentStripe       PaymentMethod = "STRIPE"
	PaymentCheck        PaymentMethod = "CHECK"
	PaymentOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentCreditCard, PaymentDebitCard,
		PaymentPaypal, PaymentStripe, PaymentCheck, PaymentOther:
		return true
	}
	return false
}

// Payment is money received against one invoice. The sum of an invoice's
// payments is its amountPaid.
type Payment struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoiceId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	PaymentDate   civil.Date      `json:"paymentDate"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type PaymentCreateRequest struct {
	InvoiceID     string          `json:"invoiceId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	PaymentDate   *civil.Date     `json:"paymentDate,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

type PaymentUpdateRequest struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaymentMethod *PaymentMethod   `json:"paymentMethod,omitempty"`
	PaymentDate   *civil.Date      `json:"paymentDate,omitempty"`
	Reference     *string          `json:"reference,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

type PaymentFilter struct {
	InvoiceID  string
	CustomerID string
}

// PaymentReceipt is a stored payment together with the invoice it settled.
type PaymentReceipt struct {
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}

type PaymentSummary struct {
	TotalReceived decimal.Decimal            `json:"totalReceived"`
	PaymentCount  int                        `json:"paymentCount"`
	ByMethod      map[string]decimal.Decimal `json:"byMethod"`
}

// RecurringInvoice is a template that materializes concrete invoices on a schedule.
type RecurringInvoice struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Frequency       Frequency       `json:"frequency"`
	Status          RecurringStatus `json:"status"`
	StartDate       civil.Date      `json:"startDate"`
	EndDate         *civil.Date     `json:"endDate,omitempty"`
	NextInvoiceDate civil.Date      `json:"nextInvoiceDate"`
	DayOfMonth      *int            `json:"dayOfMonth,omitempty"`
	DayOfWeek       *int            `json:"dayOfWeek,omitempty"`
	DueAfterDays    int             `json:"dueAfterDays"`
	Notes           string          `json:"notes,omitempty"`
	CustomerID      string          `json:"customerId"`
	Items           []LineInput     `json:"items"`
	GeneratedCount  int             `json:"generatedCount"`
	LastGeneratedAt *time.Time      `json:"lastGeneratedAt,omitempty"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type RecurringInvoiceCreateRequest struct {
	Name         string      `json:"name"`
	CustomerID   string      `json:"customerId"`
	Frequency    Frequency   `json:"frequency"`
	StartDate    civil.Date  `json:"startDate"`
	EndDate      *civil.Date `json:"endDate,omitempty"`
	DayOfMonth   *int        `json:"dayOfMonth,omitempty"`
	DayOfWeek    *int        `json:"dayOfWeek,omitempty"`
	DueAfterDays *int        `json:"dueAfterDays,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	Items        []LineInput `json:"items"`
}

type RecurringInvoiceUpdateRequest struct {
	Name         *string      `json:"name,omitempty"`
	CustomerID   *string      `json:"customerId,omitempty"`
	Frequency    *Frequency   `json:"frequency,omitempty"`
	StartDate    *civil.Date  `json:"startDate,omitempty"`
	EndDate      *civil.Date  `json:"endDate,omitempty"`
	ClearEndDate bool         `json:"clearEndDate,omitempty"`
	DayOfMonth   *int         `json:"dayOfMonth,omitempty"`
	DayOfWeek    *int         `json:"dayOfWeek,omitempty"`
	DueAfterDays *int         `json:"dueAfterDays,omitempty"`
	Notes        *string      `json:"notes,omitempty"`
	Items        *[]LineInput `json:"items,omitempty"`
}

type RecurringStatusRequest struct {
	Status RecurringStatus `json:"status"`
}

type GeneratedInvoice struct {
	DefinitionID    string          `json:"definitionId"`
	InvoiceID       string          `json:"invoiceId"`
	InvoiceNumber   string          `json:"invoiceNumber"`
	NextInvoiceDate civil.Date      `json:"nextInvoiceDate"`
	Status          RecurringStatus `json:"status"`
}

// GenerationFailure carries a stable reason code plus the error text.
type GenerationFailure struct {
	DefinitionID string `json:"definitionId"`
	Reason       string `json:"reason"`
	Error        string `json:"error,omitempty"`
}

type TriggerResult struct {
	Generated []GeneratedInvoice  `json:"generated"`
	Failed    []GenerationFailure `json:"failed"`
	Skipped   []GenerationFailure `json:"skipped"`
	RanAt     time.Time           `json:"ranAt"`
}

// Settings replaces the dashboard's client-only preference toggles.
type Settings struct {
	EmailNotifications bool      `json:"emailNotifications"`
	InvoiceReminders   bool      `json:"invoiceReminders"`
	WeeklyReports      bool      `json:"weeklyReports"`
	DarkMode           bool      `json:"darkMode"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{EmailNotifications: true, InvoiceReminders: true}
}

type SettingsUpdateRequest struct {
	EmailNotifications *bool `json:"emailNotifications,omitempty"`
	InvoiceReminders   *bool `json:"invoiceReminders,omitempty"`
	WeeklyReports      *bool `json:"weeklyReports,omitempty"`
	DarkMode           *bool `json:"darkMode,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	CompanyName       string `json:"companyName,omitempty"`
	ContactPersonName string `json:"contactPersonName,omitempty"`
}

type AuthResponse struct {
	Message   string      `json:"message"`
	User      UserProfile `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expiresAt"`
}

type Actor struct {
	UserID     string
	Username   string
	Email      string
	Role       string
	CustomerID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID         string
	Username   string
	Email      string
	Password   string
	Role       string
	CustomerID string
	Active     bool
	CreatedAt  time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}
