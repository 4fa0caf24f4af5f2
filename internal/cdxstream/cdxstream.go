// Package cdxstream iterates the CDX shards that a crawl was filtered
// down to, yielding one CdxRecord per matching line.
package cdxstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
)

// WordMIME is the only MIME type a surviving CDX record may carry.
const WordMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// CdxRecord is one candidate download discovered in a CDX shard.
type CdxRecord struct {
	URL      string `json:"url"`
	Mime     string `json:"mime"`
	Status   string `json:"status"`
	Digest   string `json:"digest"`
	Length   string `json:"length"`
	Offset   string `json:"offset"`
	Filename string `json:"filename"`
}

// shardPrefix is the blob key prefix under which a crawl's filtered CDX
// shards live.
func shardPrefix(crawlID string) string {
	return "cdx-filtered/" + crawlID + "/"
}

// Iterator is a finite, single-pass, pull-based sequence over every
// surviving CDX record of one crawl. Ordering is guaranteed only within a
// shard; the order shards themselves are visited follows blob listing
// order, which carries no cross-page guarantee.
type Iterator struct {
	ctx        context.Context
	store      blobstore.Store
	shardKeys  []string
	shardIdx   int
	pending    []CdxRecord
	pendingIdx int
}

// NewIterator lists every `.jsonl` shard under cdx-filtered/<crawlID>/ and
// returns an Iterator over their surviving records.
func NewIterator(ctx context.Context, store blobstore.Store, crawlID string) (*Iterator, error) {
	var keys []string
	err := store.List(ctx, shardPrefix(crawlID), func(entry blobstore.ListEntry) error {
		if strings.HasSuffix(entry.Key, ".jsonl") {
			keys = append(keys, entry.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cdx shards for %s: %w", crawlID, err)
	}
	return &Iterator{ctx: ctx, store: store, shardKeys: keys}, nil
}

// Next returns the next surviving record, or ok=false once every shard has
// been exhausted.
func (it *Iterator) Next() (CdxRecord, bool, error) {
	for {
		if it.pendingIdx < len(it.pending) {
			rec := it.pending[it.pendingIdx]
			it.pendingIdx++
			return rec, true, nil
		}
		if it.shardIdx >= len(it.shardKeys) {
			return CdxRecord{}, false, nil
		}

		key := it.shardKeys[it.shardIdx]
		it.shardIdx++

		data, err := it.store.Read(it.ctx, key)
		if err != nil {
			return CdxRecord{}, false, fmt.Errorf("read cdx shard %s: %w", key, err)
		}

		it.pending = parseShard(data)
		it.pendingIdx = 0
	}
}

// parseShard splits shard text on newline, trims empty lines, and keeps
// only lines that decode into the exact CDX schema (§6.2) with status
// "200" and the Word MIME type.
func parseShard(data []byte) []CdxRecord {
	cdxFieldNames := []string{"url", "mime", "status", "digest", "length", "offset", "filename"}
	lines := strings.Split(string(data), "\n")
	records := make([]CdxRecord, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &fields); err != nil || len(fields) != len(cdxFieldNames) {
			continue
		}
		exact := true
		for _, name := range cdxFieldNames {
			if v, ok := fields[name]; !ok || len(v) == 0 || v[0] != '"' {
				exact = false
			}
		}
		if !exact {
			continue
		}
		var rec CdxRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Status != "200" || rec.Mime != WordMIME {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ParseCdxLine tolerantly parses one raw upstream CDX line of the form
// `surt ts {json}`. It returns (nil, nil) — "skip" — for any malformed,
// filtered-out, or non-matching input; it never returns an error for bad
// input, only for truly unexpected conditions (there are none today).
func ParseCdxLine(line string) (*CdxRecord, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	idx := strings.IndexByte(trimmed, '{')
	if idx < 0 {
		return nil, nil
	}

	var rec CdxRecord
	if err := json.Unmarshal([]byte(trimmed[idx:]), &rec); err != nil {
		return nil, nil
	}
	if rec.Status != "200" || rec.Mime != WordMIME {
		return nil, nil
	}
	return &rec, nil
}
