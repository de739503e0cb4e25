// Package artifact turns a confirmed proof into the things people share: a
// verification link, a QR code for it and a certificate.
package artifact

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/zeebo/blake3"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
)

var ErrNotConfirmed = errors.New("artifact: proof has no inclusion data")

const defaultQRCacheSize = 8 * 1024 * 1024

// Clock supplies the generation time of artifacts.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type Option func(*Builder)

func WithClock(c Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithQRCache sizes the QR cache in bytes. Zero disables it.
func WithQRCache(bytes int) Option {
	return func(b *Builder) { b.qr = newQRCache(bytes) }
}

type Builder struct {
	origin string
	clock  Clock
	qr     *qrCache
	log    log.Logger
}

func NewBuilder(origin string, opts ...Option) *Builder {
	b := &Builder{
		origin: origin,
		clock:  ClockFunc(time.Now),
		log:    log.New("module", "artifact"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.qr == nil {
		b.qr = newQRCache(defaultQRCacheSize)
	}
	return b
}

type Artifact struct {
	VerifyURL   string       `json:"verifyUrl"`
	QRCode      []byte       `json:"-"`
	QRDataURL   string       `json:"qrDataUrl"`
	Certificate *Certificate `json:"certificate"`
}

func (b *Builder) VerifyURL(d fingerprint.Digest) string {
	return VerifyURL(b.origin, d)
}

// QR renders the QR code of the verification link of d. It does not need
// d to be registered.
func (b *Builder) QR(d fingerprint.Digest) (png []byte, verifyURL string, err error) {
	verifyURL = b.VerifyURL(d)
	png, err = b.qr.png(verifyURL)
	return png, verifyURL, err
}

func (b *Builder) Build(rec *proof.Record) (*Artifact, error) {
	if !rec.HasInclusion() {
		return nil, ErrNotConfirmed
	}
	png, verifyURL, err := b.QR(rec.Digest)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		VerifyURL:   verifyURL,
		QRCode:      png,
		QRDataURL:   DataURL(png),
		Certificate: NewCertificate(rec, verifyURL, b.clock.Now()),
	}, nil
}

// PDF renders a as a printable certificate.
func (b *Builder) PDF(a *Artifact) ([]byte, error) {
	generatedAt, err := time.Parse(time.RFC3339, a.Certificate.Meta.GeneratedAt)
	if err != nil {
		return nil, err
	}
	out, err := renderPDF(a.Certificate, a.QRCode, generatedAt)
	if err != nil {
		b.log.Error("Certificate rendering failed", "digest", a.Certificate.VideoHash, "err", err)
		return nil, err
	}
	return out, nil
}

// ETag is a strong validator for a rendered artifact body.
func ETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
