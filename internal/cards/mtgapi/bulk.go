package mtgapi

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// SetHandler receives one set of a bulk dump together with its cards. The
// cards already carry the set code, set name and image URL.
type SetHandler func(set *models.Set, cards []*models.Card) error

// bulkSet is one entry of an MTGJSON all-sets dump.
type bulkSet struct {
	models.Set
	Cards []models.Card `json:"cards"`
}

// ParseAllSets streams an MTGJSON all-sets dump, keyed by set code, and calls
// handle once per set. Gzip-compressed input is detected automatically. A
// top-level "data" object (newer dumps) is descended into and "meta" is
// skipped. Returning an error from handle stops the parse.
func ParseAllSets(r io.Reader, handle SetHandler) error {
	reader, err := maybeGunzip(r)
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(reader)
	if err := expectDelim(decoder, '{'); err != nil {
		return err
	}
	return parseSetObject(decoder, handle, true)
}

// parseSetObject reads code -> set pairs until the closing brace.
func parseSetObject(decoder *json.Decoder, handle SetHandler, topLevel bool) error {
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("failed to read set key: %w", err)
		}
		key, ok := token.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v, expected set code", token)
		}

		if topLevel {
			switch key {
			case "meta":
				var skip json.RawMessage
				if err := decoder.Decode(&skip); err != nil {
					return fmt.Errorf("failed to skip meta: %w", err)
				}
				continue
			case "data":
				if err := expectDelim(decoder, '{'); err != nil {
					return err
				}
				if err := parseSetObject(decoder, handle, false); err != nil {
					return err
				}
				continue
			}
		}

		var entry bulkSet
		if err := decoder.Decode(&entry); err != nil {
			return fmt.Errorf("failed to decode set %s: %w", key, err)
		}
		if entry.Code == "" {
			entry.Code = key
		}

		cards := make([]*models.Card, 0, len(entry.Cards))
		for i := range entry.Cards {
			cards = append(cards, NormalizeCard(&entry.Cards[i], &entry.Set))
		}

		set := entry.Set
		if err := handle(&set, cards); err != nil {
			return err
		}
	}

	// Consume the closing brace.
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("failed to read end of object: %w", err)
	}
	return nil
}

func expectDelim(decoder *json.Decoder, want json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("failed to read bulk data: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != want {
		return fmt.Errorf("unexpected token %v, expected %s", token, want)
	}
	return nil
}

// maybeGunzip wraps r in a gzip reader when it starts with the gzip magic bytes.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReaderSize(r, 64*1024)

	magic, err := buffered.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read bulk data: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	}
	return buffered, nil
}
