package core

// convert.go turns raw feed cells into typed values.
//
// Two kinds of failure are distinguished:
//   - absent: an empty cell, or an unrecognised boolean or date, yields an
//     invalid pgtype value (NULL in the database) and is not an error
//   - invalid: a non-empty year, price or mileage that does not parse is an
//     error, and the import pipeline skips the row
//
// All ToPg* functions return pgtype values with Valid=false for empty input.

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// FeedDateLayout is the only date format accepted in feeds.
const FeedDateLayout = "2006-01-02"

var (
	errNotInteger = errors.New("not an integer")
	errNotDecimal = errors.New("not a decimal number")
	errOutOfRange = errors.New("out of range")
)

// Boolean tokens recognised in the used and certified columns.
var (
	trueTokens  = map[string]bool{"true": true, "1": true, "y": true, "yes": true}
	falseTokens = map[string]bool{"false": true, "0": true, "n": true, "no": true}
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate parses a YYYY-MM-DD date. Anything else is absent.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}
	t, err := time.Parse(FeedDateLayout, s)
	if err != nil {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgBool converts a tri-state feed flag. Tokens are matched
// case-insensitively; unrecognised and empty values are absent.
func ToPgBool(s string) pgtype.Bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case trueTokens[s]:
		return pgtype.Bool{Bool: true, Valid: true}
	case falseTokens[s]:
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

// NormalizeCode trims and uppercases VINs, makes and models.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseYear parses a model year. Surrounding whitespace is ignored.
func ParseYear(s string) (int, error) {
	n, err := parseInt32(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ParseMileage parses an odometer reading. An empty cell is absent, not an error.
func ParseMileage(s string) (pgtype.Int4, error) {
	if strings.TrimSpace(s) == "" {
		return pgtype.Int4{Valid: false}, nil
	}
	n, err := parseInt32(s)
	if err != nil {
		return pgtype.Int4{Valid: false}, err
	}
	return pgtype.Int4{Int32: n, Valid: true}, nil
}

// ParsePrice parses a listing price as an exact decimal. An empty cell is
// absent, not an error.
func ParsePrice(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{Valid: false}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{Valid: false}, errNotDecimal
	}
	return decimal.NewNullDecimal(d), nil
}

// parseInt32 parses a base-10 integer that fits a PostgreSQL integer column.
func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, errOutOfRange
	}
	return int32(n), nil
}
