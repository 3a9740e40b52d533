package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/hotelna-core/internal/application/onboarding"
	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/pkg/validate"
)

const maxUploadMemory = 32 << 20

// HotelCreator runs hotel onboarding.
type HotelCreator interface {
	CreateHotel(ctx context.Context, req onboarding.CreateHotelRequest, assets []onboarding.Asset) (*onboarding.Result, error)
}

// HotelHandler handles admin hotel onboarding.
type HotelHandler struct {
	svc HotelCreator
}

func NewHotelHandler(svc HotelCreator) *HotelHandler { return &HotelHandler{svc: svc} }

// Create reads the hotel fields and its photos ("images") from a multipart form.
func (h *HotelHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := hotelRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	files := r.MultipartForm.File["images"]
	assets := make([]onboarding.Asset, len(files))
	for i, fh := range files {
		assets[i] = asset(fh)
	}

	res, err := h.svc.CreateHotel(r.Context(), req, assets)
	if err != nil {
		if errors.Is(err, domain.ErrBadRequest) || errors.Is(err, domain.ErrConflict) {
			httpError(w, err)
			return
		}
		slog.Error("hotel onboarding failed", "email", req.Email, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create hotel")
		return
	}
	writeJSON(w, http.StatusCreated, HotelEnvelope{Hotel: res.Hotel, User: res.User, Images: res.Images})
}

func hotelRequest(r *http.Request) (onboarding.CreateHotelRequest, error) {
	req := onboarding.CreateHotelRequest{
		Name:        r.FormValue("name"),
		Email:       r.FormValue("email"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Phone:       r.FormValue("phone"),
		Website:     r.FormValue("website"),
	}
	if v := r.FormValue("rating"); v != "" {
		rating, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errors.New("rating must be a number")
		}
		req.Rating = rating
	}
	lat, long := r.FormValue("lat"), r.FormValue("long")
	if lat != "" || long != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(long, 64)
		if err1 != nil || err2 != nil {
			return req, errors.New("lat and long must both be numbers")
		}
		req.Coordinates = &domain.Coordinates{Lat: la, Long: lo}
	}
	return req, nil
}

func asset(fh *multipart.FileHeader) onboarding.Asset {
	return onboarding.Asset{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}
}
