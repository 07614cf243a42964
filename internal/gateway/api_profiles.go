package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CosmoTheDev/zapmcp/internal/profiles"
)

type saveProfileRequest struct {
	Content string `json:"content"` // full markdown including frontmatter
}

// handleListProfiles returns all available profiles (bundled + user-defined).
func (gw *Gateway) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	all, err := profiles.List(gw.opts.ProfilesDir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// handleGetProfile returns one parsed profile.
func (gw *Gateway) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := profiles.Load(r.PathValue("name"), gw.opts.ProfilesDir)
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSaveProfile creates or overwrites a user-defined profile.
func (gw *Gateway) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	if gw.opts.ProfilesDir == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no profiles directory configured"})
		return
	}
	var req saveProfileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, invalidRequest("content is required"))
		return
	}
	name := r.PathValue("name")
	if err := profiles.Save(gw.opts.ProfilesDir, name, []byte(req.Content)); err != nil {
		writeProfileError(w, err)
		return
	}
	slog.Info("gateway: profile saved", "name", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "saved"})
}

// handleDeleteProfile deletes a user-defined profile. Bundled profiles cannot be deleted.
func (gw *Gateway) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := profiles.Remove(gw.opts.ProfilesDir, name); err != nil {
		writeProfileError(w, err)
		return
	}
	slog.Info("gateway: profile deleted", "name", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

func writeProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, profiles.ErrInvalid):
		writeError(w, invalidRequest(err.Error()))
	default:
		writeError(w, err)
	}
}
