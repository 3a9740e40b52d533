// Package onboarding creates a hotel account with its identity record and
// photos as one unit, undoing completed steps when a later one fails.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/hotelna-core/internal/pkg/id"
	"github.com/hotelna-core/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	MaxAssets          = 6
	keyDigits          = 4
	maxKeyAttempts     = 20
	passwordLength     = 12
	maxParallelUploads = 4
)

type CreateHotelRequest struct {
	Name        string              `json:"name" validate:"required"`
	Email       string              `json:"email" validate:"required,email"`
	Description string              `json:"description" validate:"required"`
	Location    string              `json:"location"`
	Coordinates *domain.Coordinates `json:"position"`
	Phone       string              `json:"phone"`
	Website     string              `json:"website" validate:"omitempty,url"`
	Rating      float64             `json:"rating" validate:"gte=0,lte=5"`
}

// Asset is one uploaded photo. Open is called once by the worker storing it.
type Asset struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Result is a committed onboarding. InitialPassword is only ever returned
// here and in the welcome email.
type Result struct {
	Hotel           *domain.Hotel
	User            *domain.User
	Images          []domain.Image
	InitialPassword string
}

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, userID string) error
}

type HotelStore interface {
	Create(ctx context.Context, h *domain.Hotel) error
	KeyExists(ctx context.Context, key string) (bool, error)
	SetImages(ctx context.Context, hotelID string, imageIDs []string) error
	Delete(ctx context.Context, hotelID string) error
}

type ImageStore interface {
	Put(ctx context.Context, img *domain.Image) error
	Delete(ctx context.Context, imageID string) error
}

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type ServiceDeps struct {
	Users      UserStore
	Hotels     HotelStore
	Images     ImageStore
	Objects    ObjectStore
	Publisher  broker.Publisher
	EmailQueue string
}

type Service struct {
	deps   ServiceDeps
	newKey func() (string, error)
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps, newKey: randomKey}
}

// randomKey returns a 4-digit key without a leading zero.
func randomKey() (string, error) {
	for {
		key, err := token.NumericCode(keyDigits)
		if err != nil || key[0] != '0' {
			return key, err
		}
	}
}

// CreateHotel runs the onboarding steps in order. On failure every completed
// step is compensated and the error that triggered the rollback is returned.
func (s *Service) CreateHotel(ctx context.Context, req CreateHotelRequest, assets []Asset) (*Result, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("at least one image is required: %w", domain.ErrBadRequest)
	}
	if len(assets) > MaxAssets {
		return nil, fmt.Errorf("at most %d images are allowed: %w", MaxAssets, domain.ErrBadRequest)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.deps.Users.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	log := &sagaLog{}
	res, err := s.run(ctx, log, req, assets)
	if err != nil {
		slog.Warn("hotel onboarding failed", "email", req.Email, "err", err)
		s.compensate(ctx, log)
		return nil, err
	}

	s.sendWelcome(ctx, res)
	return res, nil
}

func (s *Service) run(ctx context.Context, log *sagaLog, req CreateHotelRequest, assets []Asset) (*Result, error) {
	now := time.Now().UTC()

	password, err := token.NewPassword(passwordLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Type:         domain.RoleHotel,
		Source:       "admin",
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Phone != "" {
		user.Phone = &req.Phone
	}
	if err := s.deps.Users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create hotel identity: %w", err)
	}
	log.record(completedStep{Kind: StepIdentityCreated, Ref: user.UserID})

	key, err := s.allocateKey(ctx)
	if err != nil {
		return nil, err
	}
	hotel := &domain.Hotel{
		HotelID:     id.New(),
		Profile:     user.UserID,
		Key:         key,
		Name:        req.Name,
		Email:       req.Email,
		Description: req.Description,
		Location:    req.Location,
		Coordinates: req.Coordinates,
		Phone:       req.Phone,
		Website:     req.Website,
		Rating:      req.Rating,
		Images:      []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Hotels.Create(ctx, hotel); err != nil {
		return nil, fmt.Errorf("create hotel: %w", err)
	}
	log.record(completedStep{Kind: StepPrimaryRecordCreated, Ref: hotel.HotelID})

	images, err := s.storeAssets(ctx, log, hotel.HotelID, assets)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ImageID
	}
	if err := s.deps.Hotels.SetImages(ctx, hotel.HotelID, ids); err != nil {
		return nil, fmt.Errorf("attach images: %w", err)
	}
	hotel.Images = ids

	return &Result{Hotel: hotel, User: user, Images: images, InitialPassword: password}, nil
}

// allocateKey picks a random 4-digit key no other hotel uses.
func (s *Service) allocateKey(ctx context.Context) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := s.newKey()
		if err != nil {
			return "", err
		}
		taken, err := s.deps.Hotels.KeyExists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check hotel key: %w", err)
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("no free hotel key after %d attempts: %w", maxKeyAttempts, domain.ErrConflict)
}

// storeAssets uploads every asset concurrently and waits for all of them,
// even after a failure, so the saga log lists every stored object.
func (s *Service) storeAssets(ctx context.Context, log *sagaLog, hotelID string, assets []Asset) ([]domain.Image, error) {
	images := make([]domain.Image, len(assets))
	var g errgroup.Group
	g.SetLimit(maxParallelUploads)
	for i, a := range assets {
		g.Go(func() error {
			img, err := s.storeAsset(ctx, hotelID, a)
			if err != nil {
				return fmt.Errorf("upload %s: %w", a.Name, err)
			}
			log.record(completedStep{Kind: StepObjectStored, Ref: img.ImageID, ObjectKey: img.Key})
			images[i] = *img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPartialUpload, err)
	}
	return images, nil
}

// storeAsset puts the object then its metadata record. If the record cannot
// be written the object is removed here, since no step was recorded for it.
func (s *Service) storeAsset(ctx context.Context, hotelID string, a Asset) (*domain.Image, error) {
	r, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	key := id.ObjectKey("images", a.Name)
	url, err := s.deps.Objects.Put(ctx, key, r, a.Size, a.ContentType)
	if err != nil {
		return nil, err
	}
	img := &domain.Image{
		ImageID:   id.New(),
		HotelID:   hotelID,
		Key:       key,
		URL:       url,
		Name:      a.Name,
		Size:      a.Size,
		MimeType:  a.ContentType,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Images.Put(ctx, img); err != nil {
		if derr := s.deps.Objects.Delete(context.WithoutCancel(ctx), key); derr != nil {
			slog.Error("failed to remove orphaned object", "key", key, "err", derr)
		}
		return nil, err
	}
	return img, nil
}

// sendWelcome is best effort; the hotel is already committed.
func (s *Service) sendWelcome(ctx context.Context, res *Result) {
	msg := domain.EmailMessage{
		To:      res.User.Email,
		Subject: "Welcome to Our Platform",
		Body: fmt.Sprintf("Dear %s,\n\nYour hotel account has been created successfully.\nEmail: %s\nPassword: %s\nHotel key: %s",
			res.Hotel.Name, res.User.Email, res.InitialPassword, res.Hotel.Key),
	}
	if err := broker.PublishJSON(ctx, s.deps.Publisher, s.deps.EmailQueue, msg); err != nil {
		slog.Warn("failed to queue welcome email", "hotel_id", res.Hotel.HotelID, "err", err)
	}
}
