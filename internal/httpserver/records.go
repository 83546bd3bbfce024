package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// page reads page and page_size, rejecting values outside 1..maxSize.
func page(c *gin.Context, maxSize int) (model.Page, bool) {
	p := model.Page{Page: 1, PageSize: model.DefaultPageSize}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return p, false
		}
		p.Page = n
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must be between 1 and " + strconv.Itoa(maxSize)})
			return p, false
		}
		p.PageSize = n
	}
	return p, true
}

func recordID(c *gin.Context) (fileID, id int64, ok bool) {
	id, ok = parseID(c, "id")
	return c.GetInt64(fileIDKey), id, ok
}

func (s *Server) handleListMessages(c *gin.Context) {
	p, ok := page(c, model.MaxMessagePageSize)
	if !ok {
		return
	}
	order := c.DefaultQuery("sort_order", "asc")
	if order != "asc" && order != "desc" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort_order must be asc or desc"})
		return
	}
	f := model.MessageFilter{
		Page:      p,
		Kind:      model.MessageKind(c.Query("message_type")),
		Direction: model.Direction(c.Query("direction")),
		Operation: c.Query("operation"),
		Keyword:   c.Query("keyword"),
		SortBy:    c.Query("sort_by"),
		Desc:      order == "desc",
	}
	msgs, total, err := s.deps.Store.ListMessages(c.GetInt64(fileIDKey), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total, "page": p.Page, "page_size": p.PageSize})
}

func (s *Server) handleGetMessage(c *gin.Context) {
	fileID, id, ok := recordID(c)
	if !ok {
		return
	}
	m, err := s.deps.Store.GetMessage(fileID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleListErrors(c *gin.Context) {
	p, ok := page(c, model.MaxMessagePageSize)
	if !ok {
		return
	}
	f := model.ErrorFilter{Page: p, Kind: model.ErrorKind(c.Query("error_type"))}
	errs, total, err := s.deps.Store.ListErrors(c.GetInt64(fileIDKey), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs, "total": total, "page": p.Page, "page_size": p.PageSize})
}

func (s *Server) handleGetError(c *gin.Context) {
	fileID, id, ok := recordID(c)
	if !ok {
		return
	}
	e, err := s.deps.Store.GetError(fileID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleStatistics(c *gin.Context) {
	st, err := s.deps.Store.Statistics(c.GetInt64(fileIDKey))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleListCarrierEvents(c *gin.Context) {
	p, ok := page(c, model.MaxCarrierPageSize)
	if !ok {
		return
	}
	f := model.CarrierFilter{
		Page:        p,
		CarrierType: c.Query("carrier_type"),
		Kind:        model.CarrierEventKind(c.Query("event_type")),
		Name:        c.Query("carrier_name"),
		Direction:   model.Direction(c.Query("direction")),
	}
	events, total, err := s.deps.Store.ListCarrierEvents(c.GetInt64(fileIDKey), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total, "page": p.Page, "page_size": p.PageSize})
}

func (s *Server) handleGetCarrierEvent(c *gin.Context) {
	fileID, id, ok := recordID(c)
	if !ok {
		return
	}
	ev, err := s.deps.Store.GetCarrierEvent(fileID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) handleCarrierStatistics(c *gin.Context) {
	st, err := s.deps.Store.CarrierStatistics(c.GetInt64(fileIDKey))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCarrierTimeline(c *gin.Context) {
	name := c.Param("name")
	events, err := s.deps.Store.CarrierTimeline(c.GetInt64(fileIDKey), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"carrier_name": name, "total_events": len(events), "events": events})
}
