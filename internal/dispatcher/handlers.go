package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verdikta/arbiter-adapter/internal/aiclient"
	"github.com/verdikta/arbiter-adapter/internal/commitreveal"
	"github.com/verdikta/arbiter-adapter/internal/ctxutil"
	"github.com/verdikta/arbiter-adapter/internal/encoder"
	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/publisher"
	"github.com/verdikta/arbiter-adapter/internal/werrors"
	"github.com/verdikta/arbiter-adapter/internal/workdir"
)

// maxRequestBodyBytes bounds the oracle request body; archive payloads
// travel by CID, not inline, so the body itself is always small.
const maxRequestBodyBytes = 1 << 20 // 1 MiB

// errJustificationTimeout bounds the best-effort error-justification
// upload, run against a fresh context so an already-expired request
// deadline doesn't also cancel the failure report.
const errJustificationTimeout = 15 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Readiness.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleOracle implements the full oracle request lifecycle: decode,
// resolve the manifest, evaluate (or commit/reveal dispatch), publish the
// justification, and encode the result.
func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeOracleRequest(w, r, &req); err != nil {
		s.writeOracleError(w, req.ID, 400, string(werrors.KindBadRequest), err.Error(), "")
		return
	}

	cids := splitCIDs(req.Data.CID)
	if len(cids) == 0 {
		s.writeOracleError(w, req.ID, 400, string(werrors.KindBadRequest), "data.cid is required", "")
		return
	}

	mode := modeStandard
	if req.Data.Mode != nil {
		mode = *req.Data.Mode
	}
	if mode < modeStandard || mode > modeReveal {
		s.writeOracleError(w, req.ID, 400, string(werrors.KindBadRequest),
			fmt.Sprintf("data.mode must be 0, 1, or 2 (got %d)", mode), "")
		return
	}
	requestID := req.Data.RequestID
	if requestID == "" {
		requestID = req.ID
	}
	classID := 0
	if req.Data.ClassID != nil {
		classID = *req.Data.ClassID
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestDeadline)
	defer cancel()

	fp := commitreveal.Fingerprint(requestID, cids[0], cids[1:], classID)

	if mode == modeReveal {
		if rec, ok := s.cfg.Cache.Get(fp); ok {
			s.respondResult(w, req.ID, rec.ResultBytes, rec.JustificationCID)
			return
		}
		s.logger.Warn("reveal cache miss, falling back to full evaluation",
			"request_id", ctxutil.RequestIDFromContext(ctx))
	}

	wd, err := workdir.New(s.cfg.WorkDirRoot)
	if err != nil {
		s.handleFailure(ctx, w, req.ID, err)
		return
	}
	defer func() { _ = wd.Close() }()

	reqID := ctxutil.RequestIDFromContext(ctx)

	phaseStart := time.Now()
	parsed, err := s.cfg.Resolver.Resolve(ctx, wd.Path, cids)
	if err != nil {
		s.handleFailure(ctx, w, req.ID, mapContextErr(ctx, err))
		return
	}
	s.logger.Info("manifest resolved", "request_id", reqID, "cids", len(cids),
		"duration_ms", time.Since(phaseStart).Milliseconds())

	phaseStart = time.Now()
	aiResp, err := s.cfg.AIClient.Evaluate(ctx, aiclient.Request{
		Prompt:     parsed.Prompt,
		Models:     parsed.Models,
		Outcomes:   parsed.Outcomes,
		Iterations: parsed.Iterations,
		ClassID:    req.Data.ClassID,
		Additional: parsed.Additional,
	})
	if err != nil {
		s.handleFailure(ctx, w, req.ID, mapContextErr(ctx, err))
		return
	}
	s.logger.Info("ai evaluation completed", "request_id", reqID, "outcomes", len(parsed.Outcomes),
		"duration_ms", time.Since(phaseStart).Milliseconds())

	phaseStart = time.Now()
	justificationCID, err := s.cfg.Publisher.Publish(ctx, "justification.tar.gz", buildJustificationFiles(parsed, aiResp))
	if err != nil {
		s.handleFailure(ctx, w, req.ID, mapContextErr(ctx, err))
		return
	}
	s.logger.Info("justification published", "request_id", reqID, "cid", justificationCID,
		"duration_ms", time.Since(phaseStart).Milliseconds())

	resultBytes, err := encoder.EncodeStandard(justificationCID, aiResp.Scores)
	if err != nil {
		s.handleFailure(ctx, w, req.ID, err)
		return
	}

	switch mode {
	case modeCommit:
		commitHash := commitreveal.CommitHash(resultBytes)
		s.cfg.Cache.Put(fp, commitreveal.Record{
			ResultBytes:      resultBytes,
			JustificationCID: justificationCID,
			CommitHash:       commitHash,
			TimestampNs:      time.Now().UnixNano(),
		})
		commitBytes, err := encoder.EncodeCommit(commitHash, justificationCID)
		if err != nil {
			s.handleFailure(ctx, w, req.ID, err)
			return
		}
		s.respondResult(w, req.ID, commitBytes, justificationCID)
	default:
		// modeStandard, and modeReveal on a cache miss (the bytes are the
		// real reveal bytes in that case, by construction).
		s.respondResult(w, req.ID, resultBytes, justificationCID)
	}
}

// mapContextErr reclassifies a collaborator's error as DeadlineExceeded or
// RequestCanceled when the request context has already ended, since the
// underlying error (e.g. a transport error from an aborted HTTP call) may
// not carry that distinction itself.
func mapContextErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return werrors.New(werrors.KindDeadlineExceeded, "request deadline exceeded", err)
	case context.Canceled:
		return werrors.New(werrors.KindRequestCanceled, "request canceled", err)
	default:
		return err
	}
}

// buildJustificationFiles assembles the small archive the publisher
// uploads: a manifest summarizing what was evaluated, the justification
// narrative, and (when present) a plain-text list of the references the
// combined manifest carried.
func buildJustificationFiles(parsed *manifest.Parsed, aiResp *aiclient.Response) []publisher.File {
	summary, _ := json.Marshal(struct {
		Outcomes   []string             `json:"outcomes"`
		Scores     []int64              `json:"scores"`
		Models     []manifest.ModelSpec `json:"models"`
		Iterations int                  `json:"iterations"`
	}{
		Outcomes:   parsed.Outcomes,
		Scores:     aiResp.Scores,
		Models:     parsed.Models,
		Iterations: parsed.Iterations,
	})

	files := []publisher.File{
		{Name: "manifest.json", Content: summary},
		{Name: "justification.txt", Content: []byte(aiResp.Justification)},
	}
	if len(parsed.References) > 0 {
		files = append(files, publisher.File{Name: "references.txt", Content: []byte(strings.Join(parsed.References, "\n"))})
	}
	return files
}

func (s *Server) handleFailure(ctx context.Context, w http.ResponseWriter, jobRunID string, err error) {
	kind, ok := werrors.KindOf(err)
	if !ok {
		kind = werrors.KindInternal
	}

	if kind == werrors.KindRequestCanceled {
		s.logger.Warn("request canceled by caller", "job_run_id", jobRunID, "error", err)
		return
	}

	statusCode := 500
	if kind == werrors.KindBadRequest {
		statusCode = 400
	}

	var justificationCID string
	if kind != werrors.KindPublishFailed {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errJustificationTimeout)
		if cid, ok := s.cfg.Publisher.PublishErrorJustification(pctx, string(kind), err.Error()); ok {
			justificationCID = cid
		}
		cancel()
	}

	s.logger.Error("request failed", "kind", kind, "error", err, "job_run_id", jobRunID)
	s.writeOracleError(w, jobRunID, statusCode, string(kind), err.Error(), justificationCID)
}

func (s *Server) respondResult(w http.ResponseWriter, jobRunID string, resultBytes []byte, justificationCID string) {
	writeJSON(w, http.StatusOK, oracleResponse{
		JobRunID:   jobRunID,
		StatusCode: http.StatusOK,
		Data: oracleResponseData{
			Result:           encoder.ToHex(resultBytes),
			JustificationCID: justificationCID,
		},
	})
}

func (s *Server) writeOracleError(w http.ResponseWriter, jobRunID string, httpStatus int, kind, message, justificationCID string) {
	writeJSON(w, httpStatus, oracleResponse{
		JobRunID:   jobRunID,
		StatusCode: httpStatus,
		Data: oracleResponseData{
			JustificationCID: justificationCID,
			Error:            &oracleErrorOut{Kind: kind, Message: message},
		},
	})
}

func decodeOracleRequest(w http.ResponseWriter, r *http.Request, req *oracleRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(req)
}

// splitCIDs parses the comma-separated cid field into an ordered,
// whitespace-trimmed, non-empty list (first entry primary, rest bCIDs).
func splitCIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
