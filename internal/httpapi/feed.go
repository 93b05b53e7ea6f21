package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/earnings-feed/internal/feed"
	"github.com/rickgao/earnings-feed/internal/linkfetch"
)

func (s *Server) handleFeed(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Feed.View())
}

// handleEvents streams every published view. The first event is the
// current view. Streams end when the server shuts down.
func (s *Server) handleEvents(c *gin.Context) {
	views, unsubscribe := s.deps.Feed.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(s.cfg.SSEKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case v, ok := <-views:
			if !ok {
				return false
			}
			c.SSEvent("view", v)
			return true
		case t := <-keepAlive.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			return true
		}
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if s.deps.Refresher == nil {
		abortError(c, http.StatusServiceUnavailable, "snapshot polling is not configured")
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Refresher.Refresh(ctx); err != nil {
		s.upstreamError(c, "refresh snapshot", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshed"})
}

func (s *Server) handleReset(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Feed.Reset(ctx); err != nil {
		if errors.Is(err, feed.ErrStopped) || errors.Is(err, feed.ErrNotStarted) {
			abortError(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		abortError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.deps.Feed.View())
}

type pushRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handlePush(c *gin.Context) {
	if s.deps.Push == nil {
		abortError(c, http.StatusServiceUnavailable, "push channel is not configured")
		return
	}

	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		abortError(c, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	if *req.Enabled {
		if err := s.deps.Push.Enable(); err != nil {
			abortError(c, http.StatusConflict, err.Error())
			return
		}
	} else {
		s.deps.Push.Disable()
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled": s.deps.Push.Enabled(),
		"state":   s.deps.Push.State(),
	})
}

func (s *Server) handleLink(c *gin.Context) {
	if s.deps.Links == nil {
		abortError(c, http.StatusServiceUnavailable, "link previews are disabled")
		return
	}

	msg, ok := s.deps.Feed.Message(c.Param("id"))
	if !ok {
		abortError(c, http.StatusNotFound, "message not found")
		return
	}
	if !msg.HasLink() {
		abortError(c, http.StatusUnprocessableEntity, "message has no link")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	page, err := s.deps.Links.Fetch(ctx, msg.Link)
	if err != nil {
		if errors.Is(err, linkfetch.ErrInvalidURL) || errors.Is(err, linkfetch.ErrUnsupportedContent) {
			abortError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.upstreamError(c, "fetch link", err)
		return
	}
	c.JSON(http.StatusOK, page)
}
