package artifact

import (
	"encoding/base64"
	"errors"

	"github.com/coocood/freecache"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	QRSize       = 512
	qrExpiry     = 3600
	dataURLImage = "data:image/png;base64,"
)

type qrCache struct {
	c *freecache.Cache
}

func newQRCache(bytes int) *qrCache {
	if bytes <= 0 {
		return &qrCache{}
	}
	return &qrCache{c: freecache.NewCache(bytes)}
}

// png renders content at QRSize with high error correction and the standard
// four module quiet zone.
func (q *qrCache) png(content string) ([]byte, error) {
	key := []byte(content)
	if q.c != nil {
		if v, err := q.c.Get(key); err == nil {
			return v, nil
		} else if !errors.Is(err, freecache.ErrNotFound) {
			return nil, err
		}
	}
	png, err := qrcode.Encode(content, qrcode.High, QRSize)
	if err != nil {
		return nil, err
	}
	if q.c != nil {
		// Entries larger than the cache allows are simply not cached.
		_ = q.c.Set(key, png, qrExpiry)
	}
	return png, nil
}

func DataURL(png []byte) string {
	return dataURLImage + base64.StdEncoding.EncodeToString(png)
}
