package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/pkg/middleware/requestid"
)

const responseMetaKey = "portal_response_meta"

// ResponseMeta is the meta block attached to portal JSON envelopes.
type ResponseMeta struct {
	RequestID  string `json:"request_id,omitempty"`
	CacheHit   *bool  `json:"cache_hit,omitempty"`
	DurationMS int64  `json:"processing_time_ms"`

	start time.Time
}

// WithResponseMeta starts the per-request meta block.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &ResponseMeta{start: time.Now()})
		c.Next()
	}
}

// SetCacheHit records whether the response was served from the counter cache.
func SetCacheHit(c *gin.Context, hit bool) {
	meta := currentMeta(c)
	if meta == nil {
		if c == nil {
			return
		}
		meta = &ResponseMeta{start: time.Now()}
		c.Set(responseMetaKey, meta)
	}
	meta.CacheHit = &hit
}

// ExtractMeta snapshots the meta block for the response envelope. It returns
// nil when no meta was started for the request.
func ExtractMeta(c *gin.Context) *ResponseMeta {
	meta := currentMeta(c)
	if meta == nil {
		return nil
	}
	out := *meta
	out.RequestID = requestid.Value(c)
	out.DurationMS = time.Since(meta.start).Milliseconds()
	return &out
}

func currentMeta(c *gin.Context) *ResponseMeta {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(responseMetaKey); ok {
		if meta, ok := v.(*ResponseMeta); ok {
			return meta
		}
	}
	return nil
}
