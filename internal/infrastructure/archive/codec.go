package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// EncodeArchive renders events as gzip-compressed JSONL, one event per
// line, and returns the compressed bytes plus the raw size for the
// compression ratio.
func EncodeArchive(events []*ledger.Event) ([]byte, int, error) {
	var raw bytes.Buffer
	encoder := json.NewEncoder(&raw)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, 0, errors.NewInternalError("failed to encode archive event").WithCause(err)
		}
	}

	var compressed bytes.Buffer
	gz, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to create gzip writer").WithCause(err)
	}
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, 0, errors.NewInternalError("failed to compress archive").WithCause(err)
	}
	if err := gz.Close(); err != nil {
		return nil, 0, errors.NewInternalError("failed to finalize archive").WithCause(err)
	}

	return compressed.Bytes(), raw.Len(), nil
}

// DecodeArchive reverses EncodeArchive. Loaded events come back sealed,
// matching events read from the live store.
func DecodeArchive(data []byte) ([]*ledger.Event, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewInternalError("failed to open archive stream").WithCause(err)
	}
	defer gz.Close()

	var events []*ledger.Event
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event ledger.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, errors.NewInternalError("failed to decode archive event").WithCause(err)
		}
		event.MarkSealed()
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternalError("failed to scan archive stream").WithCause(err)
	}
	return events, nil
}
