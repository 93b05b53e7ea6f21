package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,12}$`)

func (s *Server) handleEarnings(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	items, err := s.deps.Resources.Earnings(ctx, date)
	if err != nil {
		s.upstreamError(c, "get earnings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "earnings": items})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	ticker, ok := tickerParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	cfg, err := s.deps.Resources.CompanyConfig(ctx, ticker)
	if err != nil {
		s.upstreamError(c, "get company config", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(c *gin.Context) {
	ticker, ok := tickerParam(c)
	if !ok {
		return
	}
	doc, ok := jsonBody(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Resources.PutCompanyConfig(ctx, ticker, doc); err != nil {
		s.upstreamError(c, "put company config", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetHistorical(c *gin.Context) {
	ticker, ok := tickerParam(c)
	if !ok {
		return
	}
	date, ok := dateParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	m, err := s.deps.Resources.HistoricalMetrics(ctx, ticker, date)
	if err != nil {
		s.upstreamError(c, "get historical metrics", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handlePutHistorical(c *gin.Context) {
	ticker, ok := tickerParam(c)
	if !ok {
		return
	}
	date, ok := dateParam(c)
	if !ok {
		return
	}
	doc, ok := jsonBody(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Resources.PutHistoricalMetrics(ctx, ticker, date, doc); err != nil {
		s.upstreamError(c, "put historical metrics", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func tickerParam(c *gin.Context) (string, bool) {
	t := c.Param("ticker")
	if !tickerPattern.MatchString(t) {
		abortError(c, http.StatusBadRequest, "invalid ticker")
		return "", false
	}
	return t, true
}

// dateParam reads the optional date query parameter.
func dateParam(c *gin.Context) (string, bool) {
	d := c.Query("date")
	if d == "" {
		return "", true
	}
	if _, err := time.Parse(dateLayout, d); err != nil {
		abortError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return d, true
}

func jsonBody(c *gin.Context) (json.RawMessage, bool) {
	body, err := c.GetRawData()
	if err != nil {
		abortError(c, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	if len(body) == 0 || !json.Valid(body) {
		abortError(c, http.StatusBadRequest, "body must be valid JSON")
		return nil, false
	}
	return json.RawMessage(body), true
}
