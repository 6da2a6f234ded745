package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

// multipartOverhead leaves room for form boundaries and headers on top of
// the image itself.
const multipartOverhead = 64 * 1024

type ProfileHandler struct {
	users     services.UserServiceInterface
	photos    services.PhotoServiceInterface
	maxUpload int64
}

func NewProfileHandler(users services.UserServiceInterface, photos services.PhotoServiceInterface, maxUpload int64) *ProfileHandler {
	return &ProfileHandler{users: users, photos: photos, maxUpload: maxUpload}
}

type ProfileResponse struct {
	User *models.User `json:"user"`
}

type PhotoUploadResponse struct {
	PhotoURL string `json:"photo_url"`
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{User: user})
}

// Stream pushes the caller's own profile on every change.
func (h *ProfileHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sub, err := h.users.SubscribeProfile(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error subscribing to profile: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Live updates are unavailable")
		return
	}
	serveSnapshots[*models.User](w, r, "profile", sub)
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.UpdateProfileParams
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		switch {
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrUsernameAlreadyExists):
			writeError(w, http.StatusConflict, "Username already taken")
		case errors.Is(err, services.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			log.Printf("Error updating profile: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{User: updated})
}

// UploadPhoto takes a multipart "photo" field and returns the stored URL.
// The profile itself is not changed.
func (h *ProfileHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	file, _, err := r.FormFile("photo")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing photo file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read photo")
		return
	}

	url, err := h.photos.UploadProfilePhoto(r.Context(), user.ID, data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrImageTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Image is too large")
		case errors.Is(err, services.ErrUnsupportedImage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrStorageNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "Photo uploads are not available")
		case errors.Is(err, services.ErrStorageUnavailable):
			log.Printf("Error storing profile photo: %v", err)
			writeError(w, http.StatusBadGateway, "Photo storage is unavailable")
		default:
			log.Printf("Error uploading profile photo: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, PhotoUploadResponse{PhotoURL: url})
}

func (h *ProfileHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	id, ok := parsePathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	profile, err := h.users.GetPublicProfile(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("Error getting user profile: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
