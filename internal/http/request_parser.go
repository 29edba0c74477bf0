package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var errEmptyBody = errors.New("empty request body")

// decodeJSON reads a JSON body into dst with a size cap. Amounts in request
// payloads use the amount type, which tolerates both string and numeric
// encodings.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// amount is a decimal money value from a request body. Clients send either
// "12.34" or 12.34; both normalize to the trimmed string form.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	*a = amount(strings.TrimSpace(s))
	return nil
}

func (a amount) String() string {
	return string(a)
}

// sanitizeInput removes control characters (except tab, newline, carriage
// return) and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
