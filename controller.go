package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"fontsync/internal/auth"
	"fontsync/internal/database"
	"fontsync/internal/fontmeta"
	"fontsync/internal/hub"
	"fontsync/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// Notifier accepts storage events for fan-out to connected clients.
type Notifier interface {
	Notify(msg hub.Message) bool
}

// IdentityProvider performs password login and logout against the hosted auth
// service.
type IdentityProvider interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

type ControllerOptions struct {
	MaxUploadBytes int64
	// AllowOrigin decides websocket upgrades from browsers. Nil allows all.
	AllowOrigin func(origin string) bool
}

type Controller struct {
	ctx      context.Context
	hub      *hub.Hub
	notifier Notifier
	store    storage.Store
	db       *gorm.DB
	provider IdentityProvider
	upgrader websocket.Upgrader
	maxBody  int64
}

func NewController(ctx context.Context, h *hub.Hub, n Notifier, store storage.Store, db *gorm.DB, p IdentityProvider, opts ControllerOptions) *Controller {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	allow := opts.AllowOrigin
	return &Controller{
		ctx:      ctx,
		hub:      h,
		notifier: n,
		store:    store,
		db:       db,
		provider: p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allow == nil || allow(origin)
			},
		},
		maxBody: opts.MaxUploadBytes,
	}
}

func (c *Controller) HandleHello(w http.ResponseWriter, r *http.Request) {
	c.writeText(w, http.StatusOK, "Hello, world!")
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": c.hub.Registry().Len(),
	})
}

func (c *Controller) HandleWS(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		c.writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade failed", "error", err)
		return
	}

	peer := hub.Peer{UserID: id.UserID, Email: id.Email, ClientID: id.ClientID}
	if err := c.hub.Serve(c.ctx, conn, peer); err != nil {
		slog.Error("session ended with error", "email", id.Email, "error", err)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Controller) HandleLogin(w http.ResponseWriter, r *http.Request) {
	defer closeBody(r.Body)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	result, err := c.provider.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	case errors.Is(err, auth.ErrProviderUnavailable):
		c.writeError(w, http.StatusBadGateway, "Authentication service unavailable", err)
		return
	case err != nil:
		c.writeError(w, http.StatusInternalServerError, "Failed to connect to authentication service", err)
		return
	}
	c.writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		c.writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header", nil)
		return
	}

	err := c.provider.Logout(r.Context(), token)
	switch {
	case errors.Is(err, auth.ErrNotLoggedIn):
		c.writeError(w, http.StatusUnauthorized, "No user currently logged in", nil)
		return
	case errors.Is(err, auth.ErrProviderUnavailable):
		c.writeError(w, http.StatusBadGateway, "Authentication service unavailable", err)
		return
	case err != nil:
		c.writeError(w, http.StatusInternalServerError, "Failed to logout", err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (c *Controller) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	c.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  id.UserID,
		"email":    id.Email,
		"audience": id.Audience,
	})
}

// uploadError is a failed upload with the status and message sent to the caller.
type uploadError struct {
	status  int
	message string
	err     error
}

func (e *uploadError) Error() string { return e.message }

func (e *uploadError) Unwrap() error { return e.err }

// HandleUpload stores every font of a multipart request under the caller's
// folder. It stops at the first font that is already stored; fonts stored
// before that point are kept and announced.
func (c *Controller) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, c.maxBody)
	defer closeBody(r.Body)

	reader, err := r.MultipartReader()
	if err != nil {
		c.writeError(w, http.StatusBadRequest, "Expected a multipart body", err)
		return
	}

	tx := &database.SyncTransaction{UserID: id.UserID}
	defer c.recordSync(tx)

	var records []database.FontRecord
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tx.ErrorMessage = err.Error()
			_ = c.commitUploads(r.Context(), id, tx, records)
			if tooLarge, ok := bodyLimitHit(r.Body, err); ok {
				c.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			c.writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		tx.ProcessedCount++

		rec, dup, err := c.storeUpload(r.Context(), id, part)
		_ = part.Close()
		if err != nil {
			tx.ErrorMessage = err.Error()
			_ = c.commitUploads(r.Context(), id, tx, records)
			var uerr *uploadError
			if errors.As(err, &uerr) {
				c.writeError(w, uerr.status, uerr.message, uerr.err)
			} else {
				c.writeError(w, http.StatusInternalServerError, "Upload failed", err)
			}
			return
		}
		if dup != "" {
			tx.SkippedCount++
			if err := c.commitUploads(r.Context(), id, tx, records); err != nil {
				c.writeError(w, http.StatusInternalServerError, "File uploaded but failed to save metadata", err)
				return
			}
			c.writeText(w, http.StatusOK, "Duplicated file: "+dup)
			return
		}
		records = append(records, *rec)
	}

	if len(records) == 0 {
		c.writeError(w, http.StatusBadRequest, "No files in request", nil)
		return
	}
	if err := c.commitUploads(r.Context(), id, tx, records); err != nil {
		c.writeError(w, http.StatusInternalServerError, "File uploaded but failed to save metadata", err)
		return
	}
	c.writeText(w, http.StatusOK, fmt.Sprintf("File %s uploaded successfully", records[len(records)-1].FileName))
}

// bodyLimitHit reports whether a body wrapped by http.MaxBytesReader has run past
// its limit. The multipart reader does not always wrap the read error, so the
// body itself is asked as well; once tripped it keeps returning the same error.
func bodyLimitHit(body io.Reader, err error) (*http.MaxBytesError, bool) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return tooLarge, true
	}
	if _, rerr := body.Read(nil); errors.As(rerr, &tooLarge) {
		return tooLarge, true
	}
	return nil, false
}

// storeUpload validates and stores one multipart file. A non-empty dup is the
// object path of an identical font the user already has.
func (c *Controller) storeUpload(ctx context.Context, id auth.Identity, part *multipart.Part) (*database.FontRecord, string, error) {
	name := part.FileName()
	data, err := io.ReadAll(part)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil}
		}
		return nil, "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Failed to read file '%s'", name), err}
	}

	meta, err := fontmeta.Extract(data)
	if err != nil {
		return nil, "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Invalid font file: %v", err), err}
	}

	existing, found, err := database.FindDuplicate(ctx, c.db, id.UserID, meta.Checksum)
	if err != nil {
		return nil, "", &uploadError{http.StatusInternalServerError, "Failed to check for duplicate files", err}
	}
	if found {
		slog.Info("duplicate font detected", "email", id.Email, "file", name, "checksum", meta.Checksum)
		return nil, existing, nil
	}

	key, err := storage.UserKey(id.UserID, name)
	if err != nil {
		return nil, "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Invalid file name '%s'", name), nil}
	}
	if err := c.store.Put(ctx, key, data, part.Header.Get("Content-Type")); err != nil {
		switch {
		case errors.Is(err, storage.ErrAccessDenied):
			return nil, "", &uploadError{http.StatusForbidden, "Access denied: insufficient permissions to upload files", err}
		case errors.Is(err, storage.ErrBucketNotFound):
			return nil, "", &uploadError{http.StatusNotFound, "Bucket not found or does not exist", err}
		default:
			return nil, "", &uploadError{http.StatusInternalServerError, fmt.Sprintf("Failed to upload file '%s': Server error", name), err}
		}
	}
	slog.Info("font uploaded", "email", id.Email, "file", name, "family", meta.Family, "subfamily", meta.Subfamily)

	return &database.FontRecord{
		UserID:        id.UserID,
		FontFamily:    meta.Family,
		FontSubfamily: meta.Subfamily,
		FontFoundry:   meta.Foundry,
		FontDesigner:  meta.Designer,
		FontLicense:   meta.License,
		FontCopyright: meta.Copyright,
		FileName:      name,
		ObjectPath:    key,
		Checksum:      meta.Checksum,
	}, "", nil
}

// commitUploads saves the metadata of stored fonts and announces them.
func (c *Controller) commitUploads(ctx context.Context, id auth.Identity, tx *database.SyncTransaction, records []database.FontRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := database.InsertFonts(ctx, c.db, records); err != nil {
		slog.Error("failed to insert font metadata", "error", err)
		tx.ErrorMessage = err.Error()
		return err
	}
	tx.InsertedCount += len(records)
	for _, rec := range records {
		c.notify(hub.ObjectCreated{
			Path:      rec.FileName,
			Source:    hub.SourceServer,
			SessionID: c.eventSession(id),
			UserID:    id.UserID,
		})
	}
	return nil
}

func (c *Controller) recordSync(tx *database.SyncTransaction) {
	if tx.ProcessedCount == 0 {
		return
	}
	tx.SyncStatus = tx.Status()
	if err := database.Create(context.WithoutCancel(c.ctx), c.db, tx); err != nil {
		slog.Error("failed to record sync transaction", "error", err)
	}
}

func (c *Controller) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	name := r.PathValue("key")
	key, err := storage.UserKey(id.UserID, name)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid file key '%s'", name), nil)
		return
	}

	slog.Info("downloading file", "email", id.Email, "key", name)
	body, err := c.store.Get(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.writeError(w, http.StatusNotFound, fmt.Sprintf("File '%s' does not exist", name), nil)
		return
	case err != nil:
		c.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Unable to retrieve file '%s': Server error", name), err)
		return
	}
	defer closeBody(body)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Error("failed to stream file", "key", key, "error", err)
	}
}

func (c *Controller) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	name := r.PathValue("key")
	key, err := storage.UserKey(id.UserID, name)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid file key '%s'", name), nil)
		return
	}

	slog.Info("deleting file", "email", id.Email, "key", name)
	err = c.store.Delete(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.writeError(w, http.StatusNotFound, fmt.Sprintf("File '%s' does not exist", name), nil)
		return
	case err != nil:
		c.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete file '%s'", name), err)
		return
	}

	_, dbErr := database.DeleteByPath(r.Context(), c.db, id.UserID, key)
	c.notify(hub.ObjectDeleted{
		Path:      name,
		Source:    hub.SourceServer,
		SessionID: c.eventSession(id),
		UserID:    id.UserID,
	})
	if dbErr != nil {
		c.writeError(w, http.StatusInternalServerError, "File deleted but failed to remove metadata", dbErr)
		return
	}
	c.writeText(w, http.StatusOK, "File deleted successfully")
}

// HandleListFiles returns the caller's font metadata for objects that still exist.
func (c *Controller) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	keys, err := c.store.List(r.Context(), storage.UserPrefix(id.UserID))
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "Storage error", err)
		return
	}
	fonts, err := database.ListFonts(r.Context(), c.db, id.UserID)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "Database error", err)
		return
	}

	existing := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		existing[k] = struct{}{}
	}
	matched := make([]database.FontRecord, 0, len(fonts))
	for _, f := range fonts {
		if _, ok := existing[f.ObjectPath]; ok {
			matched = append(matched, f)
		}
	}
	c.writeJSON(w, http.StatusOK, matched)
}

// eventSession is the session an HTTP originated event is attributed to: the
// caller's sync client when it named one, the server otherwise.
func (c *Controller) eventSession(id auth.Identity) uuid.UUID {
	if id.ClientID != uuid.Nil {
		return id.ClientID
	}
	return c.hub.ServerID()
}

func (c *Controller) notify(msg hub.Message) {
	if !c.notifier.Notify(msg) {
		slog.Debug("storage event not relayed", "type", msg.Type())
	}
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}

func (c *Controller) writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, message); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		slog.Error(message, "error", err)
	}
	c.writeJSON(w, status, map[string]string{"error": message})
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		slog.Error("failed to close body", "error", err)
	}
}
