package conductorapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/ethingest/blocks/internal/conductor"
	"github.com/ethingest/blocks/internal/workertype"
)

// envelope is the wire format of every response.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   bool        `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, message string) {
	writeJSON(w, envelope{Success: false, Error: true, Message: message})
}

func writeJSON(w http.ResponseWriter, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	// Status code is always 200 on a well-formed response; success/failure
	// is communicated in the envelope body.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(e)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/")
	writeOK(w, nil)
}

func (s *Server) conductorStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/conductor-status")
	if s.conductor.Status() {
		writeOK(w, nil)
		return
	}
	writeError(w, "conductor not initialized")
}

func (s *Server) knownBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/known-blocks")
	writeOK(w, strconv.Itoa(s.conductor.KnownBlockCount()))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/status")

	blocks, err := s.conductor.BlockCount()
	if err != nil {
		writeError(w, err.Error())
		return
	}
	transactions, err := s.conductor.TransactionCount()
	if err != nil {
		writeError(w, err.Error())
		return
	}

	writeOK(w, map[string]int64{"blocks": blocks, "transactions": transactions})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.Handler().ServeHTTP(w, r)
}

type pingRequest struct {
	UUID string `json:"uuid"`
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/ping")

	var req pingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		writeError(w, "invalid request")
		return
	}

	if err := s.conductor.Ping(req.UUID); err != nil {
		writeError(w, err.Error())
		return
	}
	writeOK(w, nil)
}

type jobRequestRequest struct {
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

func (s *Server) jobRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/job-request")

	var req jobRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" || req.Type == "" {
		writeError(w, "invalid request")
		return
	}

	wt, ok := workertype.FromString(req.Type)
	if !ok {
		writeError(w, "unknown worker type: "+req.Type)
		return
	}

	job, err := s.conductor.GenerateJob(r.Context(), wt, req.UUID)
	if err != nil {
		writeError(w, err.Error())
		return
	}
	if job == nil {
		writeOK(w, nil)
		return
	}

	s.metrics.ObserveJobGenerated(string(wt))
	writeOK(w, jobToDict(job))
}

type jobSubmitRequest struct {
	JobUUID string `json:"job_uuid"`
}

func (s *Server) jobSubmit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/job-submit")

	var req jobSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobUUID == "" {
		writeError(w, "invalid request")
		return
	}

	ok, errs, job, err := s.conductor.VerifyJob(req.JobUUID)
	if err != nil {
		writeError(w, err.Error())
		return
	}
	if !ok {
		writeError(w, strings.Join(errs, ", "))
		return
	}

	if bj, ok := job.(*conductor.BlockJob); ok {
		s.metrics.ObserveBlocksIngested(int64(len(bj.BlockNumbers)))
	}

	s.metrics.ObserveJobVerified(string(job.Kind()))
	writeOK(w, nil)
}

type jobRejectRequest struct {
	JobUUID string `json:"job_uuid"`
	Reason  string `json:"reason"`
}

func (s *Server) jobReject(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.metrics.ObserveRequest("/job-reject")

	var req jobRejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobUUID == "" {
		writeError(w, "invalid request")
		return
	}

	s.conductor.DelJob(req.JobUUID)
	if req.Reason != "" {
		logger.Warn("job rejected", "job", req.JobUUID, "reason", req.Reason)
	}
	s.metrics.ObserveJobRejected("")

	writeOK(w, nil)
}

// jobToDict encodes each job variant's wire representation by tag.
func jobToDict(job conductor.Job) map[string]interface{} {
	switch j := job.(type) {
	case *conductor.BlockJob:
		return map[string]interface{}{
			"job_uuid":      j.Uuid,
			"consumer_uuid": j.Consumer,
			"block_numbers": orEmptyUint64(j.BlockNumbers),
		}
	case *conductor.TxPrimeJob:
		return map[string]interface{}{
			"job_uuid":      j.Uuid,
			"consumer_uuid": j.Consumer,
			"block_numbers": orEmptyUint64(j.BlockNumbers),
		}
	case *conductor.TxDetailJob:
		return map[string]interface{}{
			"job_uuid":      j.Uuid,
			"consumer_uuid": j.Consumer,
			"transactions":  orEmptyString(j.Transactions),
		}
	default:
		return nil
	}
}

func orEmptyUint64(v []uint64) []uint64 {
	if v == nil {
		return []uint64{}
	}
	return v
}

func orEmptyString(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
