package artifact

import (
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/params"
)

const (
	TimeLayout   = "2006-01-02 15:04:05 UTC"
	DigestScheme = "sha256:"
)

// VerifyURL is the public verification link for d under origin.
func VerifyURL(origin string, d fingerprint.Digest) string {
	return strings.TrimRight(origin, "/") + "/verify?hash=" + url.QueryEscape(d.Hex())
}

// Certificate is the portable statement of a proof. Its top-level fields are
// all taken from the ledger; Meta describes the rendering and is never part
// of the proof.
type Certificate struct {
	TxHash    common.Hash    `json:"txHash"`
	VideoHash string         `json:"videoHash"`
	Creator   string         `json:"creator"`
	Block     uint64         `json:"block"`
	Timestamp string         `json:"timestamp"`
	Network   string         `json:"network"`
	Meta      Meta           `json:"meta"`
}

type Meta struct {
	GeneratedAt string `json:"generatedAt"`
	VerifyURL   string `json:"verifyUrl"`
}

func NewCertificate(rec *proof.Record, verifyURL string, generatedAt time.Time) *Certificate {
	return &Certificate{
		TxHash:    rec.TxHash,
		VideoHash: DigestScheme + rec.Digest.Hex(),
		Creator:   rec.Creator.Hex(),
		Block:     rec.BlockNumber,
		Timestamp: FormatTime(rec.Timestamp),
		Network:   params.NetworkName(rec.ChainID),
		Meta: Meta{
			GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
			VerifyURL:   verifyURL,
		},
	}
}

// FormatTime renders unix seconds the way certificates show them.
func FormatTime(unix uint64) string {
	return time.Unix(int64(unix), 0).UTC().Format(TimeLayout)
}
