package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/service/attachment"
)

// uploadMemoryLimit bounds how much of a multipart body buffers in memory
// before spilling to disk.
const uploadMemoryLimit = 8 << 20

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	ticketID := chi.URLParam(r, "id")

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		httputil.BadRequest(w, "expected multipart form upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file field")
		return
	}
	defer file.Close()

	in := attachment.UploadInput{
		TicketID: ticketID,
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
	}
	if mid := r.FormValue("message_id"); mid != "" {
		in.MessageID = &mid
	}

	att, err := s.svc.Attachments.Upload(r.Context(), *actor, in, file)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, att)
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())

	body, att, err := s.svc.Attachments.Download(r.Context(), *actor, chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", att.FileSize))
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn("attachment stream interrupted", "attachment", att.ID, "error", err.Error())
	}
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.svc.Attachments.Delete(r.Context(), *actor, chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	atts, err := s.svc.Attachments.ListByTicket(r.Context(), *actor, chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"attachments": atts})
}
