package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/redis"
	"thumbnail-service/internal/infra/storage"
	"thumbnail-service/internal/usecase"
)

const (
	uploadField     = "files"
	multipartMemory = 32 << 20
)

type jobView struct {
	ID                string          `json:"id"`
	OriginalFileName  string          `json:"original_file_name"`
	FileType          model.MediaKind `json:"file_type"`
	Status            model.JobStatus `json:"status"`
	Progress          int             `json:"progress"`
	ThumbnailFileName string          `json:"thumbnail_file_name,omitempty"`
	ThumbnailURL      string          `json:"thumbnail_url,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

func viewOf(j *model.Job) jobView {
	v := jobView{
		ID:               j.ID,
		OriginalFileName: j.OriginalName,
		FileType:         j.Kind,
		Status:           j.Status,
		Progress:         j.EffectiveProgress(),
		Error:            j.PublicError(),
		CreatedAt:        j.CreatedAt,
		CompletedAt:      j.CompletedAt,
	}
	if res := j.Result(); res != nil {
		v.ThumbnailFileName = res.ThumbnailFileName
		v.ThumbnailURL = res.ThumbnailURL
	}
	return v
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFrom(ctx)
	log := logging.With(ctx, s.log)

	if s.limiter != nil && s.httpCfg.UploadsPerMinute > 0 {
		ok, err := s.limiter.Allow(ctx, redis.UploadKey(owner), s.httpCfg.UploadsPerMinute, time.Minute)
		if err != nil {
			// limiter outage does not block uploads
			log.Warn().Err(err).Msg("upload rate limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "Too many uploads, try again later")
			return
		}
	}

	maxBody := s.storageCfg.MaxFileSize*int64(s.storageCfg.MaxFiles) + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the maximum allowed size")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded")
		return
	}
	if len(headers) > s.storageCfg.MaxFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("At most %d files per upload", s.storageCfg.MaxFiles))
		return
	}

	kinds := make([]model.MediaKind, len(headers))
	for i, fh := range headers {
		if fh.Size > s.storageCfg.MaxFileSize {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds the maximum file size", fh.Filename))
			return
		}
		kind, ok := storage.KindFor(fh.Header.Get("Content-Type"))
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid file type")
			return
		}
		kinds[i] = kind
	}

	jobs := make([]jobView, 0, len(headers))
	for i, fh := range headers {
		job, err := s.submitFile(r, owner, fh, kinds[i])
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("upload failed")
			writeError(w, statusFor(err), "Upload failed")
			return
		}
		jobs = append(jobs, viewOf(job))
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Files uploaded successfully",
		"jobs":    jobs,
	})
}

func (s *Server) submitFile(r *http.Request, owner string, fh *multipart.FileHeader, kind model.MediaKind) (*model.Job, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := s.files.SaveOriginal(f, fh.Filename)
	if err != nil {
		return nil, err
	}
	job, err := s.submit.Submit(r.Context(), usecase.SubmitRequest{
		OwnerID:      owner,
		Kind:         kind,
		OriginalName: fh.Filename,
		SourcePath:   src,
		OutputPath:   s.files.ThumbnailPath(src),
	})
	if err != nil {
		s.files.Remove(src)
		return nil, err
	}
	return job, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := s.query.List(r.Context(), ownerFrom(r.Context()), page, limit)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("list jobs failed")
		writeError(w, statusFor(err), "Failed to fetch jobs")
		return
	}

	views := make([]jobView, 0, len(res.Jobs))
	for _, j := range res.Jobs {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":       views,
		"pagination": res.Pagination,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.query.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "jobID"))
	if err != nil {
		status := statusFor(err)
		msg := "Failed to fetch job"
		if status == http.StatusNotFound {
			msg = "Job not found"
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": viewOf(job)})
}
