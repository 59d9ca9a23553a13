package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/tideline/internal/model"
)

// The /api/case routes record a case change and then run the matching
// lifecycle handler of the model, the way the case management layer would.

func (s *Server) handleInsertEvents(c *gin.Context) {
	var events []model.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		badRequest(c, "body must be a JSON array of events")
		return
	}
	ctx := c.Request.Context()
	if err := s.cases.InsertEvents(ctx, events); err != nil {
		writeError(c, err)
		return
	}
	// New events are not cached by id yet; only the aggregates are stale.
	if err := s.model.InvalidateCaches(ctx, []int64{}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"inserted": len(events)})
}

func (s *Server) handleAddDataSource(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing name")
		return
	}
	ctx := c.Request.Context()
	ds, err := s.cases.AddDataSource(ctx, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.model.HandleDataSourceAdded(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ds)
}

type tagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

// tagChange parses :id, applies write and hands the id to handle.
func (s *Server) tagChange(c *gin.Context, tag string,
	write func(context.Context, int64, string) error,
	handle func(context.Context, int64) ([]int64, error)) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "id must be an integer")
		return
	}
	ctx := c.Request.Context()
	if err := write(ctx, id, tag); err != nil {
		writeError(c, err)
		return
	}
	ids, err := handle(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"eventIds": ids})
}

func (s *Server) handleTagContent(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing tag")
		return
	}
	s.tagChange(c, req.Tag, s.cases.TagContent, s.model.HandleContentTagAdded)
}

func (s *Server) handleUntagContent(c *gin.Context) {
	s.tagChange(c, c.Param("tag"), s.cases.UntagContent, s.model.HandleContentTagDeleted)
}

func (s *Server) handleTagArtifact(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing tag")
		return
	}
	s.tagChange(c, req.Tag, s.cases.TagArtifact, s.model.HandleArtifactTagAdded)
}

func (s *Server) handleUntagArtifact(c *gin.Context) {
	s.tagChange(c, c.Param("tag"), s.cases.UntagArtifact, s.model.HandleArtifactTagDeleted)
}

// handleHashHits records hits for files given directly or through one of
// their artifacts.
func (s *Server) handleHashHits(c *gin.Context) {
	var req struct {
		Set         string  `json:"set" binding:"required"`
		ContentIDs  []int64 `json:"contentIds"`
		ArtifactIDs []int64 `json:"artifactIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body or missing set")
		return
	}
	ctx := c.Request.Context()

	hits := make([]model.Artifact, 0, len(req.ContentIDs)+len(req.ArtifactIDs))
	for _, id := range req.ContentIDs {
		hits = append(hits, model.Artifact{ID: id, ContentID: id})
	}
	for _, id := range req.ArtifactIDs {
		a, err := s.cases.ArtifactByID(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		hits = append(hits, a)
	}
	for _, hit := range hits {
		if err := s.cases.RecordHashSetHit(ctx, hit.ContentID, req.Set); err != nil {
			writeError(c, err)
			return
		}
	}

	ids, err := s.model.HandleHashSetHits(ctx, hits)
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"eventIds": ids})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshots are disabled"})
		return
	}
	path, err := s.snapshots.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": path})
}
