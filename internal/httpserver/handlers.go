package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/task"
)

type intervalRequest struct {
	Start *int64 `json:"start" binding:"required"`
	End   *int64 `json:"end" binding:"required"`
}

func (r intervalRequest) interval() (model.Interval, bool) {
	iv := model.Interval{Start: *r.Start, End: *r.End}
	return iv, iv.End > iv.Start
}

func (s *Server) zoomResponse(c *gin.Context, changed bool) {
	c.JSON(http.StatusOK, gin.H{
		"changed":    changed,
		"state":      s.model.ZoomState(),
		"canAdvance": s.model.CanAdvance(),
		"canRetreat": s.model.CanRetreat(),
	})
}

func (s *Server) handleZoom(c *gin.Context) {
	s.zoomResponse(c, false)
}

func (s *Server) handlePushTime(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing start/end")
		return
	}
	r, ok := req.interval()
	if !ok {
		badRequest(c, "end must be after start")
		return
	}
	s.zoomResponse(c, s.model.PushTimeRange(r))
}

func (s *Server) handlePushType(c *gin.Context) {
	var req struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing level")
		return
	}
	level, err := model.ParseHierarchyLevel(req.Level)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	s.zoomResponse(c, s.model.PushTypeLevel(level))
}

func (s *Server) handlePushLOD(c *gin.Context) {
	var req struct {
		LOD   string `json:"lod" binding:"required"`
		Force bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing lod")
		return
	}
	lod, err := model.ParseLevelOfDetail(req.LOD)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	changed, err := s.model.PushLOD(c.Request.Context(), lod, req.Force)
	if err != nil {
		writeError(c, err)
		return
	}
	s.zoomResponse(c, changed)
}

func (s *Server) handlePushFilter(c *gin.Context) {
	var tree filter.Tree
	if err := c.ShouldBindJSON(&tree); err != nil {
		badRequest(c, "invalid filter tree")
		return
	}
	s.zoomResponse(c, s.model.PushFilter(tree))
}

func (s *Server) handlePushPeriod(c *gin.Context) {
	var req struct {
		Seconds int64 `json:"seconds" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "seconds must be a positive number")
		return
	}
	s.zoomResponse(c, s.model.PushPeriod(req.Seconds))
}

func (s *Server) handleFullRange(c *gin.Context) {
	changed, err := s.model.ShowFullRange(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	s.zoomResponse(c, changed)
}

func (s *Server) handleActivity(c *gin.Context) {
	changed, err := s.model.ZoomToActivity(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	s.zoomResponse(c, changed)
}

func (s *Server) handleZoomIn(c *gin.Context)  { s.zoomResponse(c, s.model.ZoomIn()) }
func (s *Server) handleZoomOut(c *gin.Context) { s.zoomResponse(c, s.model.ZoomOut()) }

func (s *Server) handleAdvance(c *gin.Context) {
	s.model.Advance()
	s.zoomResponse(c, false)
}

func (s *Server) handleRetreat(c *gin.Context) {
	s.model.Retreat()
	s.zoomResponse(c, false)
}

// rangeQuery reads ?start=&end=, falling back to the current zoom range when
// both are absent.
func (s *Server) rangeQuery(c *gin.Context) (model.Interval, bool) {
	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" && endStr == "" {
		return s.model.ZoomState().TimeRange(), true
	}
	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)
	if err1 != nil || err2 != nil || end <= start {
		badRequest(c, "start and end must be unix seconds with end after start")
		return model.Interval{}, false
	}
	return model.Interval{Start: start, End: end}, true
}

func (s *Server) handleEventIDs(c *gin.Context) {
	r, ok := s.rangeQuery(c)
	if !ok {
		return
	}
	extra := filter.New()
	if text := c.Query("text"); text != "" {
		extra = extra.WithText(text)
	}
	var only []model.Clause
	if ds := c.QueryArray("datasource"); len(ds) > 0 {
		for _, v := range ds {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				badRequest(c, "datasource must be a data source id")
				return
			}
		}
		only = append(only, model.Clause{Kind: model.FilterDataSource, Values: ds})
	}

	ids, err := s.model.EventIDsWhere(c.Request.Context(), r, extra, only...)
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"timeRange": r, "eventIds": ids})
}

func (s *Server) handleEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "event id must be an integer")
		return
	}
	ev, err := s.model.EventByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	lod := s.model.ZoomState().LevelOfDetail()
	c.JSON(http.StatusOK, gin.H{"event": ev, "description": ev.Description(lod)})
}

func (s *Server) handleCounts(c *gin.Context) {
	r, ok := s.rangeQuery(c)
	if !ok {
		return
	}
	counts, err := s.model.EventCounts(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	byType := make(map[string]int64, len(counts))
	var total int64
	for typ, n := range counts {
		byType[strconv.FormatInt(int64(typ), 10)] = n
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"timeRange": r,
		"level":     s.model.ZoomState().TypeLevel().String(),
		"counts":    byType,
		"total":     total,
	})
}

func (s *Server) handleInterval(c *gin.Context) {
	ctx := c.Request.Context()
	tz := c.Query("tz")
	if tz == "" {
		r, err := s.model.SpanningInterval(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"timeRange": r})
		return
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		badRequest(c, "unknown time zone "+strconv.Quote(tz))
		return
	}
	r, err := s.model.SpanningIntervalIn(ctx, loc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeRange": r, "tz": loc.String()})
}

func (s *Server) handleTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": s.model.EventTypes()})
}

func (s *Server) handleDefaultFilter(c *gin.Context) {
	c.JSON(http.StatusOK, s.model.DefaultFilter())
}

func (s *Server) selectionResponse(c *gin.Context) {
	ids, r := s.model.Selection()
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"eventIds": ids, "timeRange": r})
}

func (s *Server) handleSelection(c *gin.Context) {
	s.selectionResponse(c)
}

func (s *Server) handleSelect(c *gin.Context) {
	var req struct {
		EventIDs []int64 `json:"eventIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if err := s.model.SelectEventIDs(c.Request.Context(), req.EventIDs); err != nil {
		writeError(c, err)
		return
	}
	s.selectionResponse(c)
}

func (s *Server) handleSelectTimeAndType(c *gin.Context) {
	var req struct {
		intervalRequest
		Type model.EventTypeID `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing start/end")
		return
	}
	r, ok := req.interval()
	if !ok {
		badRequest(c, "end must be after start")
		return
	}
	t, err := s.model.SelectTimeAndType(r, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t.Info())
}

func (s *Server) handleInvalidate(c *gin.Context) {
	var req struct {
		EventIDs []int64 `json:"eventIds"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}
	// A missing eventIds list drops every cached event.
	if err := s.model.InvalidateCaches(c.Request.Context(), req.EventIDs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": req.EventIDs})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.model.CacheStats())
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.model.RequestRefresh()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTasks(c *gin.Context) {
	tasks := s.model.Tasks()
	if tasks == nil {
		tasks = []task.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleCountsTask(c *gin.Context) {
	t, err := s.model.CountsAsync(s.model.ZoomState())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t.Info())
}

func (s *Server) handleCancelTask(c *gin.Context) {
	if !s.model.CancelTask(task.ID(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending task with that id"})
		return
	}
	c.Status(http.StatusNoContent)
}
