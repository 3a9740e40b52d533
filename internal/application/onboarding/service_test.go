package onboarding

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory stores ---

type memUsers struct {
	mu    sync.Mutex
	items map[string]domain.User
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.items {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}
func (m *memUsers) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[u.UserID] = *u
	return nil
}
func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

type memHotels struct {
	mu        sync.Mutex
	items     map[string]domain.Hotel
	createErr error
	setImgErr error
	deleteErr error
	takenKeys map[string]bool
	keyChecks int
}

func (m *memHotels) Create(_ context.Context, h *domain.Hotel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.items[h.HotelID] = *h
	return nil
}
func (m *memHotels) KeyExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyChecks++
	return m.takenKeys[key], nil
}
func (m *memHotels) SetImages(_ context.Context, id string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setImgErr != nil {
		return m.setImgErr
	}
	h := m.items[id]
	h.Images = ids
	m.items[id] = h
	return nil
}
func (m *memHotels) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.items, id)
	return nil
}

type memImages struct {
	mu     sync.Mutex
	items  map[string]domain.Image
	putErr map[string]error // by image name
}

func (m *memImages) Put(_ context.Context, img *domain.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr[img.Name]; err != nil {
		return err
	}
	m.items[img.ImageID] = *img
	return nil
}
func (m *memImages) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

type memObjects struct {
	mu      sync.Mutex
	items   map[string][]byte
	failFor string // object keys ending with this fail
	delay   time.Duration
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failFor != "" && strings.HasSuffix(key, m.failFor) {
		return "", errors.New("s3 unavailable")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = b
	return "https://cdn.test/" + key, nil
}
func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

type fixture struct {
	users   *memUsers
	hotels  *memHotels
	images  *memImages
	objects *memObjects
	mem     *broker.Memory
	svc     *Service
}

func newFixture() *fixture {
	f := &fixture{
		users:   &memUsers{items: map[string]domain.User{}},
		hotels:  &memHotels{items: map[string]domain.Hotel{}, takenKeys: map[string]bool{}},
		images:  &memImages{items: map[string]domain.Image{}, putErr: map[string]error{}},
		objects: &memObjects{items: map[string][]byte{}},
		mem:     broker.NewMemory(),
	}
	f.svc = NewService(ServiceDeps{
		Users:      f.users,
		Hotels:     f.hotels,
		Images:     f.images,
		Objects:    f.objects,
		Publisher:  f.mem,
		EmailQueue: "EMAIL",
	})
	return f
}

func (f *fixture) assertEmpty(t *testing.T) {
	t.Helper()
	assert.Empty(t, f.users.items, "identity records")
	assert.Empty(t, f.hotels.items, "hotel records")
	assert.Empty(t, f.images.items, "image records")
	assert.Empty(t, f.objects.items, "stored objects")
}

func asset(name string) Asset {
	return Asset{
		Name:        name,
		ContentType: "image/jpeg",
		Size:        4,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("jpeg"))), nil },
	}
}

var req = CreateHotelRequest{Name: "Sea View", Email: "Desk@SeaView.example", Description: "By the sea", Rating: 4.5}

// --- tests ---

func TestCreateHotel_AllStepsSucceed(t *testing.T) {
	f := newFixture()
	res, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg"), asset("pool.jpg"), asset("room.jpg")})
	require.NoError(t, err)

	require.Len(t, f.users.items, 1)
	u := f.users.items[res.User.UserID]
	assert.Equal(t, domain.RoleHotel, u.Type)
	assert.True(t, u.Verified)
	assert.Equal(t, "desk@seaview.example", u.Email)
	assert.NotEqual(t, res.InitialPassword, u.PasswordHash)

	require.Len(t, f.hotels.items, 1)
	h := f.hotels.items[res.Hotel.HotelID]
	assert.Equal(t, u.UserID, h.Profile)
	assert.Len(t, h.Key, 4)

	require.Len(t, f.images.items, 3)
	require.Len(t, h.Images, 3)
	for _, id := range h.Images {
		img, ok := f.images.items[id]
		require.True(t, ok)
		assert.Equal(t, h.HotelID, img.HotelID)
		assert.Contains(t, f.objects.items, img.Key)
	}
	assert.Len(t, f.objects.items, 3)
	assert.Equal(t, 1, f.mem.Len("EMAIL"), "welcome email queued")
}

func TestCreateHotel_OneUploadFails_FullRollback(t *testing.T) {
	f := newFixture()
	f.objects.failFor = "-broken.jpg"

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg"), asset("broken.jpg")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialUpload)
	assert.ErrorContains(t, err, "s3 unavailable")

	f.assertEmpty(t)
	assert.Equal(t, 0, f.mem.Len("EMAIL"))
}

func TestCreateHotel_WaitsForSlowUploadsBeforeCompensating(t *testing.T) {
	f := newFixture()
	f.images.putErr["broken.jpg"] = errors.New("dynamo throttled")
	f.objects.delay = 20 * time.Millisecond

	assets := []Asset{asset("broken.jpg"), asset("a.jpg"), asset("b.jpg"), asset("c.jpg"), asset("d.jpg"), asset("e.jpg")}
	_, err := f.svc.CreateHotel(context.Background(), req, assets)
	assert.ErrorIs(t, err, domain.ErrPartialUpload)
	f.assertEmpty(t)
}

func TestCreateHotel_MetadataFailureRemovesItsObject(t *testing.T) {
	f := newFixture()
	f.images.putErr["pool.jpg"] = errors.New("dynamo throttled")

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("pool.jpg")})
	assert.ErrorContains(t, err, "dynamo throttled")
	f.assertEmpty(t)
}

func TestCreateHotel_PrimaryRecordFailure_RemovesIdentity(t *testing.T) {
	f := newFixture()
	boom := errors.New("hotel table missing")
	f.hotels.createErr = boom

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	assert.ErrorIs(t, err, boom)
	f.assertEmpty(t)
}

func TestCreateHotel_CompensationFailureDoesNotMaskCause(t *testing.T) {
	f := newFixture()
	f.objects.failFor = "-lobby.jpg"
	f.hotels.deleteErr = errors.New("delete refused")

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	assert.ErrorIs(t, err, domain.ErrPartialUpload)
	assert.NotContains(t, err.Error(), "delete refused")
	assert.Empty(t, f.users.items, "identity still compensated after hotel delete failed")
}

func TestCreateHotel_AttachFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.hotels.setImgErr = errors.New("conditional check failed")

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	assert.Error(t, err)
	assert.Empty(t, f.users.items)
	assert.Empty(t, f.images.items)
	assert.Empty(t, f.objects.items)
}

func TestCreateHotel_WelcomeEmailFailureKeepsHotel(t *testing.T) {
	f := newFixture()
	f.svc.deps.Publisher = failingPublisher{}

	res, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	require.NoError(t, err)
	assert.Contains(t, f.hotels.items, res.Hotel.HotelID)
}

func TestCreateHotel_RejectsDuplicateEmailBeforeAnyStep(t *testing.T) {
	f := newFixture()
	f.users.items["existing"] = domain.User{UserID: "existing", Email: "desk@seaview.example"}

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, f.users.items, 1)
	assert.Empty(t, f.hotels.items)
}

func TestCreateHotel_AssetCountBounds(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateHotel(context.Background(), req, nil)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	many := make([]Asset, MaxAssets+1)
	for i := range many {
		many[i] = asset("x.jpg")
	}
	_, err = f.svc.CreateHotel(context.Background(), req, many)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func keySeq(keys ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		k := keys[i%len(keys)]
		i++
		return k, nil
	}
}

func TestCreateHotel_RetriesTakenKeys(t *testing.T) {
	f := newFixture()
	f.hotels.takenKeys["1111"] = true
	f.svc.newKey = keySeq("1111", "1111", "2222")

	res, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	require.NoError(t, err)
	assert.Equal(t, "2222", res.Hotel.Key)
	assert.Equal(t, 3, f.hotels.keyChecks)
}

func TestCreateHotel_NoFreeKey_RollsBackIdentity(t *testing.T) {
	f := newFixture()
	f.hotels.takenKeys["1111"] = true
	f.svc.newKey = keySeq("1111")

	_, err := f.svc.CreateHotel(context.Background(), req, []Asset{asset("lobby.jpg")})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, maxKeyAttempts, f.hotels.keyChecks)
	f.assertEmpty(t)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, broker.Message) error {
	return errors.New("broker down")
}

func TestCompensate_ReverseOrder(t *testing.T) {
	var order []string
	f := newFixture()
	f.svc.deps.Users = recUsers{f.users, &order}
	f.svc.deps.Hotels = recHotels{f.hotels, &order}
	f.svc.deps.Images = recImages{f.images, &order}
	f.svc.deps.Objects = recObjects{f.objects, &order}

	log := &sagaLog{}
	log.record(completedStep{Kind: StepIdentityCreated, Ref: "u1"})
	log.record(completedStep{Kind: StepPrimaryRecordCreated, Ref: "h1"})
	log.record(completedStep{Kind: StepObjectStored, Ref: "i1", ObjectKey: "images/k1"})
	log.record(completedStep{Kind: StepObjectStored, Ref: "i2", ObjectKey: "images/k2"})
	f.svc.compensate(context.Background(), log)

	assert.Equal(t, []string{
		"image:i2", "object:images/k2",
		"image:i1", "object:images/k1",
		"hotel:h1",
		"user:u1",
	}, order)
}

type recUsers struct {
	*memUsers
	order *[]string
}

func (r recUsers) Delete(ctx context.Context, id string) error {
	*r.order = append(*r.order, "user:"+id)
	return r.memUsers.Delete(ctx, id)
}

type recHotels struct {
	*memHotels
	order *[]string
}

func (r recHotels) Delete(ctx context.Context, id string) error {
	*r.order = append(*r.order, "hotel:"+id)
	return r.memHotels.Delete(ctx, id)
}

type recImages struct {
	*memImages
	order *[]string
}

func (r recImages) Delete(ctx context.Context, id string) error {
	*r.order = append(*r.order, "image:"+id)
	return r.memImages.Delete(ctx, id)
}

type recObjects struct {
	*memObjects
	order *[]string
}

func (r recObjects) Delete(ctx context.Context, key string) error {
	*r.order = append(*r.order, "object:"+key)
	return r.memObjects.Delete(ctx, key)
}
