package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// CacheKey derives the result cache key from the exact query text and the
// full options payload. Struct encoding keeps the field order fixed.
func CacheKey(q schema.Query) string {
	opts, _ := json.Marshal(q.Options)
	h := sha1.New()
	h.Write([]byte(q.Text))
	h.Write([]byte{0})
	h.Write(opts)
	return hex.EncodeToString(h.Sum(nil))
}
