package stubapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/logutil"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
)

// maxFormBytes bounds setup request bodies.
const maxFormBytes = 16 << 10

type statusResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	logger := obs.From(r.Context()).With("pkg", "stubapp")
	if status >= http.StatusInternalServerError {
		logger.Error("request_failed", "path", logutil.RedactPathForLog(r.URL.Path), "code", code, "error", err)
	} else {
		logger.Info("request_rejected", "path", logutil.RedactPathForLog(r.URL.Path), "code", code, "error", err)
	}
	writeJSON(w, status, statusResponse{Code: string(code), Message: errs.MessageOf(err)})
}

func (a *App) handleNuke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := a.store.Servers(ctx)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to load servers", err))
		return
	}
	for _, srv := range servers {
		for _, lib := range srv.Libraries {
			if !lib.Searched() {
				continue
			}
			if err := a.deletePosters(r, srv.MachineID, lib.Key); err != nil {
				writeError(w, r, errs.Wrap(errs.Internal, "failed to delete posters", err))
				return
			}
		}
	}

	if err := a.store.Nuke(ctx); err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to reset configuration", err))
		return
	}
	obs.From(ctx).With("pkg", "stubapp").Info("configuration_nuked", "servers", len(servers))
	writeJSON(w, http.StatusOK, statusResponse{Code: "ok", Message: "Configuration reset"})
}

func (a *App) deletePosters(r *http.Request, machineID string, key int) error {
	ctx := r.Context()
	owned, err := a.store.Movies(ctx, machineID, key, "")
	if err != nil {
		return err
	}
	missing, err := a.store.Recommended(ctx, machineID, key)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(owned)+len(missing))
	for _, m := range append(owned, missing...) {
		keys = append(keys, m.PosterKey)
	}
	return a.posters.DeletePosters(ctx, keys...)
}

func (a *App) handleSaveTMDBKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if err := validateTMDBKey(key); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.store.SetTMDBKey(r.Context(), key); err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to save TMDB key", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Code: "ok", Message: "TMDB key saved"})
}

func (a *App) handleTestTMDBKey(w http.ResponseWriter, r *http.Request) {
	if err := validateTMDBKey(strings.TrimSpace(r.PathValue("key"))); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Code: "ok", Message: "TMDB key works"})
}

// validateTMDBKey accepts what TMDB v3 keys look like: letters, digits and dashes.
func validateTMDBKey(key string) error {
	if key == "" {
		return errs.New(errs.InvalidArgument, "TMDB key is required")
	}
	for _, c := range key {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return errs.New(errs.InvalidArgument, "TMDB key contains invalid characters")
		}
	}
	return nil
}

func (a *App) handleAddPlex(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, r, errs.Wrap(errs.InvalidArgument, "invalid form", err))
		return
	}

	address := strings.TrimSpace(r.PostForm.Get("address"))
	token := strings.TrimSpace(r.PostForm.Get("plexToken"))
	port, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("port")))
	var problems []string
	if address == "" {
		problems = append(problems, "address is required")
	}
	if err != nil || port < 1 || port > 65535 {
		problems = append(problems, "port must be a number between 1 and 65535")
	}
	if token == "" {
		problems = append(problems, "plexToken is required")
	}
	if len(problems) > 0 {
		writeError(w, r, errs.New(errs.InvalidArgument, strings.Join(problems, "; ")))
		return
	}

	logger := obs.From(r.Context()).With("pkg", "stubapp")
	logger.Info("plex_add", "form", logutil.FormatFormForLog(r.PostForm))

	plex, ok := a.catalog.Lookup(address, port)
	if !ok {
		writeError(w, r, errs.New(errs.Unavailable, fmt.Sprintf("could not reach a Plex server at %s:%d", address, port)))
		return
	}
	if plex.Token != token {
		writeError(w, r, errs.New(errs.InvalidArgument, "Plex rejected the token"))
		return
	}

	server := db.Server{
		MachineID:    plex.MachineID,
		FriendlyName: plex.FriendlyName,
		Address:      address,
		Port:         port,
		PlexToken:    token,
	}
	for _, lib := range plex.Libraries {
		server.Libraries = append(server.Libraries, db.Library{Key: lib.Key, Title: lib.Title})
	}
	if err := a.store.AddServer(r.Context(), server); err != nil {
		if errors.Is(err, db.ErrServerExists) {
			writeError(w, r, errs.Wrap(errs.InvalidArgument, plex.FriendlyName+" is already added", err))
			return
		}
		writeError(w, r, errs.Wrap(errs.Internal, "failed to save Plex server", err))
		return
	}

	logger.Info("plex_added", "machine_id", plex.MachineID, "libraries", len(server.Libraries))
	writeJSON(w, http.StatusOK, statusResponse{Code: "ok", Message: plex.FriendlyName + " added"})
}
