package library_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-library"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockBorrowRequests stubs the lending repository for state machine tests.
// Only the guarded status moves are implemented; anything else panics through
// the embedded nil interface, which is what we want in a unit test.
type MockBorrowRequests struct {
	mock.Mock
	library.BorrowRequests
}

func (m *MockBorrowRequests) MarkBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, issueDate, dueDate time.Time) error {
	args := m.Called(ctx, tx, id, issueDate, dueDate)
	return args.Error(0)
}

func (m *MockBorrowRequests) MarkReturnedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status library.BorrowStatus, returnDate time.Time) error {
	args := m.Called(ctx, tx, id, status, returnDate)
	return args.Error(0)
}

func (m *MockBorrowRequests) MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// MockIdentityProvider implements library.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (library.Identity, error) {
	args := m.Called(ctx, identifier, password)
	identity, _ := args.Get(0).(library.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (library.Identity, error) {
	args := m.Called(ctx, identifier)
	identity, _ := args.Get(0).(library.Identity)
	return identity, args.Error(1)
}

// TestIdentity is a plain value implementing library.Identity
type TestIdentity struct {
	id       string
	fullName string
	email    string
	role     string
}

func (i TestIdentity) ID() string       { return i.id }
func (i TestIdentity) FullName() string { return i.fullName }
func (i TestIdentity) Email() string    { return i.email }
func (i TestIdentity) Role() string     { return i.role }

type mockConfig struct {
	signingKey      string
	contextKey      string
	authScheme      string
	tokenExpiration int
	issuer          string
	audience        []string
}

func newMockConfig() *mockConfig {
	return &mockConfig{
		signingKey:      "test-signing-key",
		contextKey:      "library_session",
		authScheme:      "Bearer",
		tokenExpiration: 24,
		issuer:          "test-library",
		audience:        []string{"test-members"},
	}
}

func (c *mockConfig) GetSigningKey() string   { return c.signingKey }
func (c *mockConfig) GetContextKey() string   { return c.contextKey }
func (c *mockConfig) GetAuthScheme() string   { return c.authScheme }
func (c *mockConfig) GetTokenExpiration() int { return c.tokenExpiration }
func (c *mockConfig) GetIssuer() string       { return c.issuer }
func (c *mockConfig) GetAudience() []string   { return c.audience }

// recordingMailer captures every message handed to the gateway
type recordingMailer struct {
	mu       sync.Mutex
	messages []library.MailMessage
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg library.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []library.MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]library.MailMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *recordingMailer) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		kinds = append(kinds, msg.Kind)
	}
	return kinds
}

// capturingSink collects activity events in order
type capturingSink struct {
	mu     sync.Mutex
	events []library.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt library.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) all() []library.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]library.ActivityEvent, len(c.events))
	copy(out, c.events)
	return out
}

// MockContext mocks router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}
