package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"collabdocs/collab"
	"collabdocs/core"
	"collabdocs/middleware"
	"collabdocs/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type (
	CreateDocumentRequest struct {
		Title   string          `json:"title"`
		Content json.RawMessage `json:"content"`
	}

	SaveDocumentRequest struct {
		Title   string          `json:"title"`
		Content json.RawMessage `json:"content"`
	}

	ShareRequest struct {
		Role core.ShareRole `json:"role"`
	}

	ShareResponse struct {
		ShareLink string         `json:"shareLink"`
		Token     string         `json:"token"`
		Role      core.ShareRole `json:"role"`
	}

	// DocumentSummary is the list view of a document: metadata only, no
	// content and no share grants.
	DocumentSummary struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
)

// HandleList returns the caller's documents, most recently updated first.
func HandleList(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docs, err := store.ListByOwner(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"owner_id": claims.Subject,
			}).Error("Failed to list documents")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list documents"})
			return
		}

		render.JSON(w, r, lo.Map(docs, func(d *core.Document, _ int) DocumentSummary {
			return DocumentSummary{
				ID:        d.ID,
				Title:     d.Title,
				CreatedAt: d.CreatedAt,
				UpdatedAt: d.UpdatedAt,
			}
		}))
	}
}

// HandleCreate stores a new document owned by the caller.
func HandleCreate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req CreateDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.Title == "" {
			req.Title = "Untitled Document"
		}
		if len(req.Content) == 0 {
			req.Content = json.RawMessage(`{"html":""}`)
		}

		doc, err := store.Create(r.Context(), claims.Subject, req.Title, req.Content)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"owner_id": claims.Subject,
			}).Error("Failed to create document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Document creation failed"})
			return
		}

		render.JSON(w, r, doc)
	}
}

// HandleGet fetches a single owned document, content included.
func HandleGet(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		doc, err := store.GetByIDAndOwner(r.Context(), id, claims.Subject)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Document not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": id,
				"owner_id":    claims.Subject,
			}).Error("Failed to load document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load document"})
			return
		}

		render.JSON(w, r, doc)
	}
}

// HandleSave is the manual save path: it writes the submitted snapshot
// through the persistence coordinator and reports the outcome immediately.
// Last write wins; a concurrent save from another session of the same
// document is fully overwritten by whichever the store observes later.
func HandleSave(saver *collab.Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		var req SaveDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		// A save always carries the full snapshot; a body without content
		// (e.g. a title-only rename) must not erase the stored document.
		if len(req.Content) == 0 || string(req.Content) == "null" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Content required"})
			return
		}

		doc, err := saver.ManualSave(r.Context(), id, claims.Subject, req.Content, req.Title)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Not found or not allowed"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": id,
				"owner_id":    claims.Subject,
			}).Error("Failed to save document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Save failed"})
			return
		}

		render.JSON(w, r, doc)
	}
}

// HandleShare issues a new share grant for an owned document.
func HandleShare(store stores.Store, clientOrigin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		req := ShareRequest{Role: core.RoleEditor}
		if r.Body != nil {
			// Body is optional; the role defaults to editor.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if req.Role == "" {
			req.Role = core.RoleEditor
		}
		if !core.ValidRole(req.Role) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Role must be viewer or editor"})
			return
		}

		grant, err := store.AddShareGrant(r.Context(), id, claims.Subject, req.Role)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Not found or not allowed"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": id,
				"owner_id":    claims.Subject,
			}).Error("Failed to create share grant")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Share failed"})
			return
		}

		render.JSON(w, r, ShareResponse{
			ShareLink: fmt.Sprintf("%s/share/%s", clientOrigin, grant.Token),
			Token:     grant.Token,
			Role:      grant.Role,
		})
	}
}
