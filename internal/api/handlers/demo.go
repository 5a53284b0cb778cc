package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docgen.io/pipeline/internal/pipeline/seed"
)

// DemoSeed handles POST /demo/seed: installs the fixed-id demo fixture
// graph, reusing any rows that already exist.
func (s *Server) DemoSeed(c *gin.Context) {
	result, err := s.seeder.Seed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DemoIDs handles GET /demo/ids: the fixed demo id scheme (§6), with no
// database access required.
func (s *Server) DemoIDs(c *gin.Context) {
	c.JSON(http.StatusOK, seed.GetIDs())
}

// DemoValidate handles POST /demo/validate: re-checks the seeded graph's
// internal consistency.
func (s *Server) DemoValidate(c *gin.Context) {
	report, err := s.seeder.Validate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
