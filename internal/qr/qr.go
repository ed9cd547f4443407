package qr

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// Encoder превращает коды погашения в QR картинки. Состояния не хранит
// и в БД не ходит, рендер идёт вне транзакций.
type Encoder struct {
	prefix string
	size   int
}

func NewEncoder(prefix string, size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{prefix: prefix, size: size}
}

// Payload возвращает текст, который кладётся в QR.
func (e *Encoder) Payload(code string) string {
	return e.prefix + code
}

// Code достаёт код погашения из отсканированного текста. Строка без
// префикса возвращается как есть, введённый руками код проходит насквозь.
func (e *Encoder) Code(scanned string) string {
	scanned = strings.TrimSpace(scanned)
	if e.prefix == "" {
		return scanned
	}
	if len(scanned) >= len(e.prefix) && strings.EqualFold(scanned[:len(e.prefix)], e.prefix) {
		return scanned[len(e.prefix):]
	}
	return scanned
}

func (e *Encoder) PNG(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, e.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
