package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/service"
)

// Handshake statuses reported by /hello.
const (
	StatusOK                   = "ok"
	StatusMaintenance          = "maintenance"
	StatusIncompatiblePlatform = "incompatible-platform"
	StatusIncompatibleVersion  = "incompatible-version"
)

// Platform describes what clients must report to be served.
type Platform struct {
	ID          string
	Version     string
	Maintenance bool
}

// Handler implements the client API endpoints.
type Handler struct {
	Catalog    service.CatalogService
	Categories service.CategoryService
	Downloads  service.DistributionService
	Platform   Platform
	Log        *zap.Logger
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Hello reports whether the client platform is served.
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	status := StatusOK
	switch {
	case h.Platform.Maintenance:
		status = StatusMaintenance
	case r.FormValue("platform") != h.Platform.ID:
		status = StatusIncompatiblePlatform
	case r.FormValue("version") != h.Platform.Version:
		status = StatusIncompatibleVersion
	}
	writeJSON(w, map[string]string{"status": status})
}

type appView struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Vendor           string   `json:"vendor"`
	Version          string   `json:"version"`
	Architecture     string   `json:"architecture"`
	BriefDescription string   `json:"briefDescription"`
	CategoryID       int64    `json:"category_id"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags"`
}

func brief(description string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	return strings.TrimSpace(line)
}

// AppList lists entries. category_id=0 selects top apps; filter matches names.
func (h *Handler) AppList(w http.ResponseWriter, r *http.Request) {
	f := model.AppFilter{Name: r.FormValue("filter")}
	if v := r.FormValue("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			http.Error(w, "bad category_id", http.StatusBadRequest)
			return
		}
		if id == 0 {
			f.TopOnly = true
		} else {
			f.CategoryID = id
		}
	}

	apps, err := h.Catalog.List(r.Context(), f)
	if err != nil {
		h.internal(w, "list apps", err)
		return
	}
	cats, err := h.Categories.List(r.Context())
	if err != nil {
		h.internal(w, "list categories", err)
		return
	}
	catNames := make(map[int64]string, len(cats))
	for _, c := range cats {
		catNames[c.ID] = c.Name
	}

	out := make([]appView, 0, len(apps))
	for _, a := range apps {
		out = append(out, appView{
			ID:               a.ID.String(),
			Name:             a.Name,
			Vendor:           a.Vendor,
			Version:          a.Version,
			Architecture:     a.Architecture,
			BriefDescription: brief(a.Description),
			CategoryID:       a.CategoryID,
			Category:         catNames[a.CategoryID],
			Tags:             a.Tags,
		})
	}
	writeJSON(w, out)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*model.App, bool) {
	id, err := uuid.FromString(r.FormValue("id"))
	if err != nil {
		http.Error(w, "no such application: "+r.FormValue("id"), http.StatusNotFound)
		return nil, false
	}
	app, err := h.Catalog.Get(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		http.Error(w, "no such application: "+id.String(), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.internal(w, "get app", err)
		return nil, false
	}
	return app, true
}

// AppDescription returns the description text of an entry.
func (h *Handler) AppDescription(w http.ResponseWriter, r *http.Request) {
	app, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, app.Description)
}

// AppIcon returns the PNG icon of an entry.
func (h *Handler) AppIcon(w http.ResponseWriter, r *http.Request) {
	app, ok := h.lookup(w, r)
	if !ok {
		return
	}
	f, err := h.Catalog.Icon(r.Context(), app.ID)
	if errors.Is(err, errs.ErrNotFound) {
		http.Error(w, "no icon", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internal(w, "open icon", err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/png")
	_, _ = io.Copy(w, f)
}

type purchaseResponse struct {
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AppPurchase issues a device-bound download for the logged-in user.
func (h *Handler) AppPurchase(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	failed := func(msg string) { writeJSON(w, purchaseResponse{Status: "failed", Error: msg}) }

	id, err := uuid.FromString(r.FormValue("id"))
	if err != nil {
		failed("invalid id")
		return
	}
	t, err := h.Downloads.Purchase(r.Context(), id, p.UserID, r.FormValue("device_id"))
	switch {
	case err == nil:
		writeJSON(w, purchaseResponse{Status: "ok", URL: t.URL, ExpiresIn: t.ExpiresIn})
	case errors.Is(err, errs.ErrDeviceIDRequired):
		failed(errs.ErrDeviceIDRequired.Error())
	case errors.Is(err, errs.ErrNotFound):
		failed("no such application: " + id.String())
	default:
		h.Log.Error("purchase", zap.String("app", id.String()), zap.String("user", p.UserID.String()), zap.Error(err))
		failed("internal error")
	}
}

// AppDownload streams an issued download.
func (h *Handler) AppDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	f, err := h.Downloads.Fetch(r.Context(), name)
	if errors.Is(err, errs.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.internal(w, "fetch download", err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		h.internal(w, "stat download", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, name, st.ModTime(), f)
}

type categoryView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CategoryList returns categories in display order.
func (h *Handler) CategoryList(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Categories.List(r.Context())
	if err != nil {
		h.internal(w, "list categories", err)
		return
	}
	out := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryView{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, out)
}

// CategoryIcon returns the icon of the newest entry in a category or a transparent pixel.
func (h *Handler) CategoryIcon(w http.ResponseWriter, r *http.Request) {
	img := service.TransparentPNG()
	if id, err := strconv.ParseInt(r.FormValue("id"), 10, 64); err == nil {
		if b, err := h.Catalog.CategoryIcon(r.Context(), id); err == nil {
			img = b
		} else {
			h.Log.Warn("category icon", zap.Int64("category", id), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.Log.Error(op, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
