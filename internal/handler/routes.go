package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts every route. authn guards /v1; scanLimit, when set, only
// wraps the scan endpoint.
func Register(r *gin.Engine, h *Handler, authn gin.HandlerFunc, scanLimit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", authn)

	scan := []gin.HandlerFunc{h.Scan}
	if scanLimit != nil {
		scan = append([]gin.HandlerFunc{scanLimit}, scan...)
	}
	v1.POST("/scans", scan...)

	s := v1.Group("/sessions/:kind/:id")
	s.POST("/qr", h.GenerateToken)
	s.GET("/attendance", h.ListAttendance)
	s.GET("/scans", h.ListScans)
	s.POST("/reconcile", h.Reconcile)
	s.PUT("/attendance/:student", h.UpdateStatus)
	s.POST("/attendance/bulk", h.BulkUpdate)
	s.POST("/attendance/mark-all", h.MarkAll)
}
