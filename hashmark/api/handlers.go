package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashmark-protocol/hashmark/hashmark/artifact"
	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/hashmark/util/jsonutil"
	"github.com/hashmark-protocol/hashmark/hashmark/workflow"
)

const maxJSONBody = 1 << 20

var (
	allowedMedia = regexp.MustCompile(`video/|audio/|application/octet-stream|image/`)
	addressRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonutil.MustEncode(v))
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}

// writeLedgerError answers with the status matching a ledger failure.
// Unclassified errors are logged in full and surfaced generically.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch ledger.KindOf(err) {
	case ledger.ErrNetworkUnavailable:
		writeError(w, http.StatusServiceUnavailable, "Ledger unavailable.", err.Error())
	default:
		s.log.Error(msg, "id", requestIDOf(r.Context()), "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, msg, "")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return jsonutil.DecodeStrict(http.MaxBytesReader(w, r.Body, maxJSONBody), v)
}

func pathDigest(w http.ResponseWriter, r *http.Request) (fingerprint.Digest, bool) {
	d, err := fingerprint.ParseDigest(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Hash must be 64 hex characters.", "")
		return d, false
	}
	return d, true
}

// queryLimit reads ?limit, defaulting non-positive or malformed values.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return ledger.DefaultRecent
	}
	return ledger.ClampLimit(n)
}

type proofView struct {
	VideoHash   string         `json:"videoHash"`
	Creator     string         `json:"creator"`
	Timestamp   uint64         `json:"timestamp"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

func viewsOf(recs []proof.Record) []proofView {
	out := make([]proofView, len(recs))
	for i, rec := range recs {
		out[i] = proofView{VideoHash: rec.Digest.Hex(), Creator: rec.Creator.Hex(), Timestamp: rec.Timestamp, BlockNumber: rec.BlockNumber, TxHash: rec.TxHash}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "timestamp": time.Now().UnixMilli()})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Info(r.Context()))
}

type hashFileResponse struct {
	Hash     string `json:"hash"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

// handleHashFile streams the "file" part of a multipart upload through the
// fingerprint engine without buffering it.
func (s *Server) handleHashFile(w http.ResponseWriter, r *http.Request) {
	// Room for the multipart envelope around a file at the limit.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload+maxJSONBody)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded. Use multipart field name 'file'.", "")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.uploadError(w, err)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}
		defer part.Close()
		mimetype := part.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(mimetype); err == nil {
			mimetype = mt
		}
		if !allowedMedia.MatchString(mimetype) {
			writeError(w, http.StatusUnsupportedMediaType, "Unsupported MIME type: "+mimetype, "")
			return
		}
		d, n, err := fingerprint.SumReader(io.LimitReader(part, s.cfg.MaxUpload+1))
		if err != nil {
			s.uploadError(w, err)
			return
		}
		if n > s.cfg.MaxUpload {
			s.tooLarge(w)
			return
		}
		writeJSON(w, http.StatusOK, hashFileResponse{Hash: d.Hex(), Filename: part.FileName(), Size: n, Mimetype: mimetype})
		return
	}
	writeError(w, http.StatusBadRequest, "No file uploaded. Use multipart field name 'file'.", "")
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		s.tooLarge(w)
		return
	}
	writeError(w, http.StatusBadRequest, "Malformed upload.", err.Error())
}

func (s *Server) tooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge, "File too large. Maximum is "+strconv.FormatInt(s.cfg.MaxUpload>>20, 10)+" MB.", "")
}

func (s *Server) handleHashRaw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *string `json:"value"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "Body must contain a non-empty 'value' string.", "")
		return
	}
	d, err := fingerprint.SumRaw(*req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Body must contain a non-empty 'value' string.", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": d.Hex()})
}

type authenticateResponse struct {
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber,omitempty"`
	Creator     string         `json:"creator,omitempty"`
	Timestamp   uint64         `json:"timestamp,omitempty"`
	Hash        string         `json:"hash"`
	Pending     bool           `json:"pending,omitempty"`
}

func (s *Server) clientSigning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"error":           "Server wallet not configured. Sign the transaction from your client wallet.",
		"clientSigning":   true,
		"contractAddress": s.ledger.Info(r.Context()).ContractAddress,
	})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Hash) == "" {
		writeError(w, http.StatusBadRequest, "Body must contain a non-empty 'hash' string.", "")
		return
	}
	d, err := fingerprint.ParseDigest(req.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Hash must be 64 hex characters.", "")
		return
	}
	if s.auth == nil {
		s.clientSigning(w, r)
		return
	}
	if _, err := s.signer.Capability(r.Context()); err != nil {
		s.log.Warn("Server signer unavailable", "err", err)
		s.clientSigning(w, r)
		return
	}

	out := s.auth.Authenticate(r.Context(), workflow.FromDigest(d))
	switch {
	case out.State == workflow.Confirmed:
		s.record(out.Record)
		rec := out.Record
		writeJSON(w, http.StatusOK, authenticateResponse{TxHash: rec.TxHash, BlockNumber: rec.BlockNumber, Creator: rec.Creator.Hex(), Timestamp: rec.Timestamp, Hash: d.Hex()})
	case out.State == workflow.AwaitingConfirmation:
		writeJSON(w, http.StatusAccepted, authenticateResponse{TxHash: out.TxHash, Hash: d.Hex(), Pending: true})
	case out.Failure == workflow.AlreadyAuthenticated:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Hash already authenticated on-chain.", "hash": d.Hex()})
	case out.Failure == workflow.Unauthorized:
		s.clientSigning(w, r)
	case out.Failure == workflow.NetworkUnavailable:
		writeError(w, http.StatusServiceUnavailable, "Ledger unavailable.", out.Err.Error())
	case out.Failure == workflow.SigningRejected:
		writeError(w, http.StatusForbidden, "Signing rejected.", "")
	case out.Failure == workflow.Canceled, out.State == workflow.AwaitingSigningCapability:
		writeError(w, http.StatusServiceUnavailable, "Request canceled before submission.", "")
	default:
		s.log.Error("Authentication failed", "id", requestIDOf(r.Context()), "digest", d, "state", out.State, "err", out.Err)
		writeError(w, http.StatusInternalServerError, "Transaction failed.", "")
	}
}

// record appends a server-signed proof to the receipt journal.
func (s *Server) record(rec *proof.Record) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(rec); err != nil {
		s.log.Error("Journal append failed", "digest", rec.Digest, "err", err)
	}
}

type verifyResponse struct {
	Authenticated bool            `json:"authenticated"`
	Creator       string          `json:"creator,omitempty"`
	Timestamp     uint64          `json:"timestamp,omitempty"`
	Hash          string          `json:"hash"`
	TxHash        *common.Hash    `json:"txHash,omitempty"`
	BlockNumber   uint64          `json:"blockNumber,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	d, ok := pathDigest(w, r)
	if !ok {
		return
	}
	v := s.verifier.Verify(r.Context(), workflow.FromDigest(d))
	switch v.Status {
	case workflow.StatusNotFound:
		writeJSON(w, http.StatusOK, verifyResponse{Hash: d.Hex()})
	case workflow.StatusFound:
		rec := v.Result.Record
		resp := verifyResponse{Authenticated: true, Creator: rec.Creator.Hex(), Timestamp: rec.Timestamp, Hash: d.Hex()}
		if rec.HasInclusion() {
			resp.TxHash, resp.BlockNumber = &rec.TxHash, rec.BlockNumber
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		s.writeLedgerError(w, r, "Verification failed.", v.Err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, "Stats unavailable.", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TotalProofs  uint64      `json:"totalProofs"`
		RecentProofs []proofView `json:"recentProofs"`
		BlockNumber  uint64      `json:"blockNumber"`
		Offline      bool        `json:"offline,omitempty"`
	}{st.TotalProofs, viewsOf(st.RecentProofs), st.BlockNumber, st.Offline})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	l, err := s.ledger.Recent(r.Context(), queryLimit(r))
	if err != nil {
		s.writeLedgerError(w, r, "Listing unavailable.", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Proofs      []proofView `json:"proofs"`
		Total       uint64      `json:"total"`
		BlockNumber uint64      `json:"blockNumber"`
		Offline     bool        `json:"offline,omitempty"`
	}{viewsOf(l.Proofs), l.Total, l.BlockNumber, l.Offline})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	d, ok := pathDigest(w, r)
	if !ok {
		return
	}
	png, verifyURL, err := s.builder.QR(d)
	if err != nil {
		s.log.Error("QR rendering failed", "digest", d, "err", err)
		writeError(w, http.StatusInternalServerError, "QR code generation failed.", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrDataUrl": artifact.DataURL(png), "verifyUrl": verifyURL, "hash": d.Hex()})
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	d, ok := pathDigest(w, r)
	if !ok {
		return
	}
	res, err := s.ledger.LocateProof(r.Context(), d)
	if err != nil {
		s.writeLedgerError(w, r, "Certificate unavailable.", err)
		return
	}
	if !res.Found {
		writeError(w, http.StatusNotFound, "Not authenticated.", "")
		return
	}
	a, err := s.builder.Build(res.Record)
	if errors.Is(err, artifact.ErrNotConfirmed) {
		writeError(w, http.StatusNotFound, "Proof inclusion not indexed yet.", "")
		return
	}
	if err != nil {
		s.log.Error("Certificate build failed", "digest", d, "err", err)
		writeError(w, http.StatusInternalServerError, "Certificate generation failed.", "")
		return
	}
	if r.URL.Query().Get("format") != "pdf" {
		writeJSON(w, http.StatusOK, a)
		return
	}
	body, err := s.builder.PDF(a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Certificate generation failed.", "")
		return
	}
	etag := artifact.ETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="hashmark-`+d.Hex()[:12]+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "Receipt journal disabled.", "")
		return
	}
	receipts, err := s.journal.Recent(queryLimit(r))
	if err != nil {
		s.log.Error("Journal read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Receipts unavailable.", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": receipts})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(w, r, &req); err != nil || !addressRe.MatchString(req.Address) {
		writeError(w, http.StatusBadRequest, "Valid Ethereum address required.", "")
		return
	}
	err := s.ledger.Fund(r.Context(), common.HexToAddress(req.Address))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "address": req.Address, "funded": "10 ETH"})
	case errors.Is(err, ledger.ErrFaucetDisabled):
		writeError(w, http.StatusForbidden, "Faucet disabled.", "")
	case errors.Is(err, ledger.ErrNetworkUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Faucet failed, is the node running?", err.Error())
	default:
		s.writeLedgerError(w, r, "Faucet failed.", err)
	}
}
