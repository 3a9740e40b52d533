package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	return m.Called(ctx, userID, updates).Error(0)
}
func (m *mockUserStore) MarkVerified(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockUserStore) MarkPhoneConfirmed(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockUserStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return m.Called(ctx, userID, hash).Error(0)
}

type mockCodes struct{ mock.Mock }

func (m *mockCodes) Issue(ctx context.Context, subject string, p domain.Purpose) (string, error) {
	args := m.Called(ctx, subject, p)
	return args.String(0), args.Error(1)
}
func (m *mockCodes) Verify(ctx context.Context, subject string, p domain.Purpose, c string) error {
	return m.Called(ctx, subject, p, c).Error(0)
}
func (m *mockCodes) Check(ctx context.Context, subject string, p domain.Purpose, c string) error {
	return m.Called(ctx, subject, p, c).Error(0)
}
func (m *mockCodes) Revoke(ctx context.Context, subject string, p domain.Purpose) error {
	return m.Called(ctx, subject, p).Error(0)
}

type downPublisher struct{}

func (downPublisher) Publish(context.Context, string, broker.Message) error {
	return errors.New("channel closed")
}

type mockJWTSigner struct{ mock.Mock }

func (m *mockJWTSigner) Sign(userID, role string) (string, error) {
	args := m.Called(userID, role)
	return args.String(0), args.Error(1)
}

// --- builder ---

func newService(us *mockUserStore, codes *mockCodes, mem *broker.Memory, jwt *mockJWTSigner) Service {
	return NewService(ServiceDeps{
		UserRepo:    us,
		Codes:       codes,
		Publisher:   mem,
		JWTProvider: jwt,
		EmailQueue:  "EMAIL",
		SMSQueue:    "SMS",
	})
}

func nextMessage[T any](t *testing.T, mem *broker.Memory, queue string) T {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := mem.Consume(ctx, queue)
	require.NoError(t, err)
	d := <-ch
	var v T
	require.NoError(t, json.Unmarshal(d.Body, &v))
	require.NoError(t, d.Ack())
	return v
}

func hashOf(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// --- Register ---

func TestRegister_CreatesUnverifiedClientAndEmailsCode(t *testing.T) {
	us, codes, mem := &mockUserStore{}, &mockCodes{}, broker.NewMemory()
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, domain.ErrNotFound)
	us.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.Type == domain.RoleClient && !u.Verified && u.PasswordHash != "secret-pass"
	})).Return(nil)
	codes.On("Issue", mock.Anything, mock.Anything, domain.PurposeAccountCreation).Return("123456", nil)

	u, err := newService(us, codes, mem, nil).Register(context.Background(), domain.RegisterRequest{
		Name: "Ana", Email: " Ana@Example.com ", Password: "secret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)

	msg := nextMessage[domain.EmailMessage](t, mem, "EMAIL")
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Contains(t, msg.Body, "123456")
	us.AssertExpectations(t)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1"}, nil)

	_, err := newService(us, nil, broker.NewMemory(), nil).Register(context.Background(), domain.RegisterRequest{
		Email: "ana@example.com", Password: "secret-pass",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	us.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	us, jwt := &mockUserStore{}, &mockJWTSigner{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{
		UserID: "u1", Type: domain.RoleClient, Verified: true, PasswordHash: hashOf(t, "secret-pass"),
	}, nil)
	jwt.On("Sign", "u1", domain.RoleClient).Return("bearer-token", nil)

	tok, u, err := newService(us, nil, nil, jwt).Login(context.Background(), domain.LoginRequest{
		Email: "ana@example.com", Password: "secret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "bearer-token", tok)
	assert.Equal(t, "u1", u.UserID)
}

func TestLogin_WrongPassword(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{
		UserID: "u1", Verified: true, PasswordHash: hashOf(t, "secret-pass"),
	}, nil)

	_, _, err := newService(us, nil, nil, nil).Login(context.Background(), domain.LoginRequest{
		Email: "ana@example.com", Password: "wrong-pass",
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogin_Unverified(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{
		UserID: "u1", PasswordHash: hashOf(t, "secret-pass"),
	}, nil)

	_, _, err := newService(us, nil, nil, nil).Login(context.Background(), domain.LoginRequest{
		Email: "ana@example.com", Password: "secret-pass",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// --- VerifyAccount ---

func TestVerifyAccount_MarksVerified(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1"}, nil)
	us.On("MarkVerified", mock.Anything, "u1").Return(nil)
	codes.On("Verify", mock.Anything, "u1", domain.PurposeAccountCreation, "123456").Return(nil)

	err := newService(us, codes, nil, nil).VerifyAccount(context.Background(), VerifyCodeRequest{Email: "ana@example.com", Code: "123456"})
	require.NoError(t, err)
	us.AssertExpectations(t)
}

func TestVerifyAccount_BadCodeDoesNotVerify(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1"}, nil)
	codes.On("Verify", mock.Anything, "u1", domain.PurposeAccountCreation, "000000").Return(domain.ErrCodeInvalid)

	err := newService(us, codes, nil, nil).VerifyAccount(context.Background(), VerifyCodeRequest{Email: "ana@example.com", Code: "000000"})
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
	us.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
}

func TestVerifyAccount_UnknownEmailLooksLikeBadCode(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "x@example.com").Return(nil, domain.ErrNotFound)

	err := newService(us, nil, nil, nil).VerifyAccount(context.Background(), VerifyCodeRequest{Email: "x@example.com", Code: "123456"})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

// --- ResendCode ---

func TestResendCode_TooSoonPropagates(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1", Email: "ana@example.com"}, nil)
	codes.On("Issue", mock.Anything, "u1", domain.PurposePasswordReset).Return("", &domain.TooSoonError{Remaining: 10e9})

	mem := broker.NewMemory()
	err := newService(us, codes, mem, nil).ResendCode(context.Background(), ResendCodeRequest{
		Email: "ana@example.com", Type: domain.PurposePasswordReset,
	})
	assert.ErrorIs(t, err, domain.ErrTooSoon)
	assert.Equal(t, 0, mem.Len("EMAIL"))
}

func TestResendCode_VerifiedAccountIsSilent(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1", Verified: true}, nil)

	mem := broker.NewMemory()
	err := newService(us, codes, mem, nil).ResendCode(context.Background(), ResendCodeRequest{
		Email: "ana@example.com", Type: domain.PurposeAccountCreation,
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, mem.Len("EMAIL"))
	codes.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestResendCode_PublishFailureRevokesCode(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1", Email: "ana@example.com"}, nil)
	codes.On("Issue", mock.Anything, "u1", domain.PurposePasswordReset).Return("123456", nil)
	codes.On("Revoke", mock.Anything, "u1", domain.PurposePasswordReset).Return(nil)

	svc := NewService(ServiceDeps{UserRepo: us, Codes: codes, Publisher: downPublisher{}, EmailQueue: "EMAIL"})
	err := svc.ResendCode(context.Background(), ResendCodeRequest{Email: "ana@example.com", Type: domain.PurposePasswordReset})
	assert.ErrorContains(t, err, "channel closed")
	codes.AssertExpectations(t)
}

func TestResendCode_RejectsPhonePurpose(t *testing.T) {
	err := newService(nil, nil, nil, nil).ResendCode(context.Background(), ResendCodeRequest{
		Email: "ana@example.com", Type: domain.PurposePhoneVerify,
	})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

// --- Password reset ---

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "x@example.com").Return(nil, domain.ErrNotFound)

	mem := broker.NewMemory()
	err := newService(us, nil, mem, nil).ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "x@example.com"})
	assert.NoError(t, err)
	assert.Equal(t, 0, mem.Len("EMAIL"))
}

func TestResetPassword_ConsumesCodeThenSetsHash(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1"}, nil)
	codes.On("Verify", mock.Anything, "u1", domain.PurposePasswordReset, "654321").Return(nil)
	us.On("SetPasswordHash", mock.Anything, "u1", mock.MatchedBy(func(h string) bool {
		return bcrypt.CompareHashAndPassword([]byte(h), []byte("new-password")) == nil
	})).Return(nil)

	err := newService(us, codes, nil, nil).ResetPassword(context.Background(), ResetPasswordRequest{
		Email: "ana@example.com", Code: "654321", NewPassword: "new-password",
	})
	require.NoError(t, err)
	us.AssertExpectations(t)
}

func TestResetPassword_InvalidCode(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("GetByEmail", mock.Anything, "ana@example.com").Return(&domain.User{UserID: "u1"}, nil)
	codes.On("Verify", mock.Anything, "u1", domain.PurposePasswordReset, "654321").Return(domain.ErrCodeNotFound)

	err := newService(us, codes, nil, nil).ResetPassword(context.Background(), ResetPasswordRequest{
		Email: "ana@example.com", Code: "654321", NewPassword: "new-password",
	})
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
	us.AssertNotCalled(t, "SetPasswordHash", mock.Anything, mock.Anything, mock.Anything)
}

// --- Phone ---

func TestRequestPhoneVerification_StoresNumberAndTextsCode(t *testing.T) {
	us, codes, mem := &mockUserStore{}, &mockCodes{}, broker.NewMemory()
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	us.On("Update", mock.Anything, "u1", map[string]interface{}{"phone": "+15551234567", "phone_confirmed": false}).Return(nil)
	codes.On("Issue", mock.Anything, "u1", domain.PurposePhoneVerify).Return("424242", nil)

	err := newService(us, codes, mem, nil).RequestPhoneVerification(context.Background(), "u1", PhoneRequest{Phone: "+15551234567"})
	require.NoError(t, err)

	sms := nextMessage[domain.SMSMessage](t, mem, "SMS")
	assert.Equal(t, domain.SMSMessage{To: "+15551234567", Code: "424242"}, sms)
}

func TestRequestPhoneVerification_TooSoonKeepsStoredNumber(t *testing.T) {
	us, codes, mem := &mockUserStore{}, &mockCodes{}, broker.NewMemory()
	old := "+15550000000"
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Phone: &old, PhoneConfirmed: true}, nil)
	codes.On("Issue", mock.Anything, "u1", domain.PurposePhoneVerify).Return("", &domain.TooSoonError{Remaining: 10e9})

	err := newService(us, codes, mem, nil).RequestPhoneVerification(context.Background(), "u1", PhoneRequest{Phone: "+15551234567"})
	assert.ErrorIs(t, err, domain.ErrTooSoon)
	us.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, mem.Len("SMS"))
}

func TestRequestPhoneVerification_PublishFailureRevokesCode(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	us.On("Update", mock.Anything, "u1", mock.Anything).Return(nil)
	codes.On("Issue", mock.Anything, "u1", domain.PurposePhoneVerify).Return("424242", nil)
	codes.On("Revoke", mock.Anything, "u1", domain.PurposePhoneVerify).Return(nil)

	svc := NewService(ServiceDeps{UserRepo: us, Codes: codes, Publisher: downPublisher{}, SMSQueue: "SMS"})
	err := svc.RequestPhoneVerification(context.Background(), "u1", PhoneRequest{Phone: "+15551234567"})
	assert.Error(t, err)
	codes.AssertExpectations(t)
}

func TestVerifyPhone(t *testing.T) {
	us, codes := &mockUserStore{}, &mockCodes{}
	codes.On("Verify", mock.Anything, "u1", domain.PurposePhoneVerify, "424242").Return(nil)
	us.On("MarkPhoneConfirmed", mock.Anything, "u1").Return(nil)

	require.NoError(t, newService(us, codes, nil, nil).VerifyPhone(context.Background(), "u1", PhoneVerifyRequest{Code: "424242"}))

	codes2 := &mockCodes{}
	codes2.On("Verify", mock.Anything, "u1", domain.PurposePhoneVerify, "000000").Return(errors.Join(domain.ErrCodeInvalid))
	err := newService(us, codes2, nil, nil).VerifyPhone(context.Background(), "u1", PhoneVerifyRequest{Code: "000000"})
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
	us.AssertNumberOfCalls(t, "MarkPhoneConfirmed", 1)
}
