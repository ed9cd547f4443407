// Package redeemcode генерирует короткие коды погашения, удобные для ввода руками.
//
// В алфавите нет легко путаемых 0/O и 1/I, кассир читает код с экрана
// телефона и набирает его. Уникальность обеспечивает вызывающий.
package redeemcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	Alphabet      = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	DefaultLength = 8
	MinLength     = 6
	MaxLength     = 16
)

var ErrInvalidLength = errors.New("redeem code length out of range")

// Generator нужен сервису выдачи.
type Generator interface {
	Generate() (string, error)
}

type RandomGenerator struct {
	length int
}

func NewRandomGenerator(length int) (*RandomGenerator, error) {
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	return &RandomGenerator{length: length}, nil
}

func (g *RandomGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize приводит ввод оператора к каноническому виду: разделители и
// пробелы выбрасываются, буквы переводятся в верхний регистр.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToUpper(input) {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Valid проверяет, мог ли code быть выдан RandomGenerator.
func Valid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
