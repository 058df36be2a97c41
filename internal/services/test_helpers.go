package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/stepgate/internal/models"
)

// MockUserRepository implements UserRepository and UserLookup for testing
type MockUserRepository struct {
	GetByIDFunc          func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc    func(ctx context.Context, username string) (*models.User, error)
	CreateFunc           func(ctx context.Context, user *models.User) (*models.User, error)
	SetTwoFactorTypeFunc func(ctx context.Context, id, twoFactorType string) error
	SetTOTPSecretFunc    func(ctx context.Context, id string, encrypted, nonce []byte) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) SetTwoFactorType(ctx context.Context, id, twoFactorType string) error {
	if m.SetTwoFactorTypeFunc != nil {
		return m.SetTwoFactorTypeFunc(ctx, id, twoFactorType)
	}
	return nil
}

func (m *MockUserRepository) SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, encrypted, nonce)
	}
	return nil
}

// MockUserAuthenticator implements UserAuthenticator for testing
type MockUserAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, username, password string) (*models.User, error)
	Calls            int
}

func (m *MockUserAuthenticator) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	m.Calls++
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, username, password)
	}
	return nil, models.ErrUnauthorized
}

// SentEmail is a message captured by MockEmailSender
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records sent emails
type MockEmailSender struct {
	SendEmailFunc func(ctx context.Context, to, subject, body string) error

	mu   sync.Mutex
	Sent []SentEmail
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if m.SendEmailFunc != nil {
		if err := m.SendEmailFunc(ctx, to, subject, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// Last returns the most recent email, nil if none was sent
func (m *MockEmailSender) Last() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	e := m.Sent[len(m.Sent)-1]
	return &e
}

// Count returns the number of sent emails
func (m *MockEmailSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// TestClock is a manually advanced time source
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock creates a clock starting at a fixed instant
func NewTestClock() *TestClock {
	return &TestClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewTestUser creates an active test user
func NewTestUser(id, username, email string) *models.User {
	return &models.User{
		ID:        id,
		Username:  username,
		Email:     email,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// NewTestUserInactive creates an inactive test user
func NewTestUserInactive(id, username, email string) *models.User {
	user := NewTestUser(id, username, email)
	user.IsActive = false
	return user
}
