package httpadapter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

type batchProcessRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	const op = "upload document"

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(rt.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.writeError(w, r, domain.Fail(domain.ErrInvalidInput, op, "file exceeds the upload size limit"))
			return
		}
		rt.writeError(w, r, domain.Fail(domain.ErrInvalidInput, op, "multipart form with field 'file' is required"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		rt.writeError(w, r, domain.Fail(domain.ErrInvalidInput, op, "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	documentType := strings.TrimSpace(r.FormValue("documentType"))
	doc, err := rt.services.Documents.Upload(r.Context(), actorFromContext(r.Context()), ports.UploadInput{
		Filename:        fileHeader.Filename,
		MimeType:        fileHeader.Header.Get("Content-Type"),
		DocumentType:    documentType,
		ShipmentOrderID: strings.TrimSpace(r.FormValue("shipmentOrderId")),
		Body:            file,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordUpload(doc.DocumentType, fileHeader.Size)
	writeSuccess(w, http.StatusAccepted, "document uploaded, processing started", doc)
}

func (rt *Router) processingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.services.Documents.GetProcessingStatus(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "processing status", status)
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := rt.services.Documents.RequestReprocess(r.Context(), id, actorFromContext(r.Context())); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, "reprocessing queued", map[string]string{"documentId": id})
}

func (rt *Router) batchProcess(w http.ResponseWriter, r *http.Request) {
	var req batchProcessRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode batch request", err))
		return
	}
	queued, err := rt.services.Documents.RequestBatch(r.Context(), req.DocumentIDs, actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, "batch processing queued", map[string]int{"queued": queued})
}

func (rt *Router) quotaStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.services.Quota.Status(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "provider quota status", status)
}

func (rt *Router) resetQuota(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(strings.TrimSpace(mux.Vars(r)["provider"]))
	if err := rt.services.Quota.Reset(r.Context(), actorFromContext(r.Context()), provider); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "provider quota reset", map[string]string{"provider": string(provider)})
}
