package identity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/hotelna-core/internal/infrastructure/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUserReader struct{ mock.Mock }

func (m *mockUserReader) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTokenStore struct{ mock.Mock }

func (m *mockTokenStore) Upsert(ctx context.Context, t *domain.PushToken) error {
	return m.Called(ctx, t).Error(0)
}
func (m *mockTokenStore) ListActiveByUser(ctx context.Context, userID string) ([]domain.PushToken, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]domain.PushToken)
	return tokens, args.Error(1)
}

func decode(t *testing.T, b []byte) domain.SubjectRecord {
	t.Helper()
	var rec domain.SubjectRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	return rec
}

func TestLookupHandler_ReturnsRecordWithoutSecrets(t *testing.T) {
	users, tokens := &mockUserReader{}, &mockTokenStore{}
	users.On("Get", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", Name: "Ana", Email: "ana@example.com", PasswordHash: "$2a$secret", Verified: true,
	}, nil)
	tokens.On("ListActiveByUser", mock.Anything, "u1").Return([]domain.PushToken{{Token: "ExpoPushToken[a]"}}, nil)

	out := NewLookupHandler(users, tokens).HandleRequest(context.Background(), []byte(`{"userId":"u1"}`))

	assert.NotContains(t, string(out), "secret")
	rec := decode(t, out)
	assert.Equal(t, "ana@example.com", rec.Email)
	assert.Equal(t, []string{"ExpoPushToken[a]"}, rec.PushTokens)
	assert.Nil(t, rec.Error)
}

func TestLookupHandler_ErrorShapes(t *testing.T) {
	users, tokens := &mockUserReader{}, &mockTokenStore{}
	users.On("Get", mock.Anything, "missing").Return(nil, domain.ErrNotFound)
	users.On("Get", mock.Anything, "broken").Return(nil, errors.New("dynamo down"))
	h := NewLookupHandler(users, tokens)

	rec := decode(t, h.HandleRequest(context.Background(), []byte(`{"userId":"missing"}`)))
	require.NotNil(t, rec.Error)
	assert.Equal(t, domain.RPCCodeNotFound, rec.Error.Code)

	rec = decode(t, h.HandleRequest(context.Background(), []byte(`{"userId":"broken"}`)))
	assert.Equal(t, domain.RPCCodeInternal, rec.Error.Code)
	assert.NotContains(t, rec.Error.Message, "dynamo")

	rec = decode(t, h.HandleRequest(context.Background(), []byte(`not json`)))
	assert.Equal(t, domain.RPCCodeBadRequest, rec.Error.Code)
}

func TestLookupHandler_TokenFailureStillAnswers(t *testing.T) {
	users, tokens := &mockUserReader{}, &mockTokenStore{}
	users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Email: "ana@example.com"}, nil)
	tokens.On("ListActiveByUser", mock.Anything, "u1").Return(nil, errors.New("throttled"))

	rec := decode(t, NewLookupHandler(users, tokens).HandleRequest(context.Background(), []byte(`{"userId":"u1"}`)))
	assert.Nil(t, rec.Error)
	assert.Equal(t, "ana@example.com", rec.Email)
	assert.Empty(t, rec.PushTokens)
}

// bridge wires a Requester and a Responder over one in-memory broker.
func bridge(t *testing.T, h rpc.Handler) *Client {
	t.Helper()
	mem := broker.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req := rpc.NewRequester(mem, "USER_DETAILS_REQUEST", "USER_DETAILS_RESPONSE", time.Second)
	go func() { _ = req.Listen(ctx, mem) }()
	resp := rpc.NewResponder(mem, mem, "USER_DETAILS_REQUEST", "USER_DETAILS_RESPONSE", 4, h)
	go func() { _ = resp.Serve(ctx) }()
	return NewClient(req)
}

func TestClient_LookupOverBridge(t *testing.T) {
	users, tokens := &mockUserReader{}, &mockTokenStore{}
	users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Email: "ana@example.com"}, nil)
	users.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)
	tokens.On("ListActiveByUser", mock.Anything, "u1").Return([]domain.PushToken{}, nil)

	c := bridge(t, NewLookupHandler(users, tokens))

	rec, err := c.Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", rec.Email)

	_, err = c.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_LookupTimesOut(t *testing.T) {
	mem := broker.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := rpc.NewRequester(mem, "REQ", "RESP", 30*time.Millisecond)
	go func() { _ = req.Listen(ctx, mem) }()

	_, err := NewClient(req).Lookup(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestTokenService_Register(t *testing.T) {
	tokens := &mockTokenStore{}
	tokens.On("Upsert", mock.Anything, mock.MatchedBy(func(pt *domain.PushToken) bool {
		return pt.Active && pt.UserID == "u1"
	})).Return(nil)
	svc := NewTokenService(tokens)

	pt, err := svc.Register(context.Background(), "u1", RegisterTokenRequest{Token: "ExponentPushToken[abc]"})
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[abc]", pt.Token)

	_, err = svc.Register(context.Background(), "u1", RegisterTokenRequest{Token: "garbage"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	tokens.AssertNumberOfCalls(t, "Upsert", 1)
}
